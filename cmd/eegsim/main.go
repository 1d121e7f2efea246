// Command eegsim streams random samples in the dummy device's OSC format:
// (unix_ts, lsl_ts, sample_id, v0..v4) on /random.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/eegpipe/internal/logger"
	"github.com/hypebeast/go-osc/osc"
	"github.com/spf13/pflag"
)

const valuesPerPacket = 5

func main() {
	host := pflag.String("host", "127.0.0.1", "Destination host")
	port := pflag.Int("port", 14739, "Destination UDP port")
	topic := pflag.String("topic", "/random", "OSC address")
	rate := pflag.Int("rate", 256, "Packets per second")
	level := pflag.String("log-level", "info", "Log level")
	pflag.Parse()

	logLevel, err := logger.ParseLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logLevel, logger.IsService())

	if *rate < 1 {
		logger.Fatal().Int("rate", *rate).Msg("Rate must be positive")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := osc.NewClient(*host, *port)
	logger.Info().Str("host", *host).Int("port", *port).Str("topic", *topic).Int("rate", *rate).Msg("Sending")

	sent, err := stream(ctx, client, *topic, *rate)
	if err != nil {
		logger.Error().Err(err).Uint64("sent", sent).Msg("Stopped sending")
		os.Exit(1)
	}
	logger.Info().Uint64("sent", sent).Msg("Exiting...")
}

// stream sends rate packets per second, paced evenly, until ctx is done.
func stream(ctx context.Context, client *osc.Client, topic string, rate int) (uint64, error) {
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	start := time.Now()
	var id int32
	for {
		select {
		case <-ctx.Done():
			return uint64(id), nil
		case now := <-ticker.C:
			msg := osc.NewMessage(topic,
				float64(now.UnixNano())/1e9,
				now.Sub(start).Seconds(),
				id,
			)
			for range valuesPerPacket {
				msg.Append(int32(rand.IntN(2001) - 1000))
			}
			if err := client.Send(msg); err != nil {
				return uint64(id), err
			}
			id++
		}
	}
}
