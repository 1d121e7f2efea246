package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPacketLayout(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	client := osc.NewClient("127.0.0.1", conn.LocalAddr().(*net.UDPAddr).Port)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan uint64, 1)
	go func() {
		sent, err := stream(ctx, client, "/random", 100)
		assert.NoError(t, err)
		done <- sent
	}()

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	size, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	packet, err := osc.ParsePacket(string(buf[:size]))
	require.NoError(t, err)
	msg, ok := packet.(*osc.Message)
	require.True(t, ok)

	assert.Equal(t, "/random", msg.Address)
	require.Len(t, msg.Arguments, 3+valuesPerPacket)
	assert.IsType(t, float64(0), msg.Arguments[0])
	assert.Equal(t, int32(0), msg.Arguments[2])
	for _, arg := range msg.Arguments[3:] {
		v, ok := arg.(int32)
		require.True(t, ok)
		assert.GreaterOrEqual(t, v, int32(-1000))
		assert.LessOrEqual(t, v, int32(1000))
	}

	assert.Positive(t, <-done)
}
