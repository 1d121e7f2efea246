package stage

import (
	"fmt"
	"sort"
	"strings"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/signal"
)

// Params carries the settings stage factories draw from.
type Params struct {
	SamplingRate int
	KernelSize   int
	FreqMin      float64
	FreqMax      float64
	Bands        []signal.Band
	Policy       InsufficientPolicy
}

type Factory func(p Params) (Stage, error)

var factories = map[string]Factory{
	"moving_average": func(p Params) (Stage, error) {
		return NewMovingAverage(p.KernelSize)
	},
	"band_power": func(p Params) (Stage, error) {
		return NewBandPower(BandPowerConfig{
			SamplingRate: p.SamplingRate,
			FreqMin:      p.FreqMin,
			FreqMax:      p.FreqMax,
			Bands:        p.Bands,
			Policy:       p.Policy,
		})
	},
}

// Build constructs the named stages in order.
func Build(names []string, p Params) ([]Stage, error) {
	stages := make([]Stage, 0, len(names))
	for _, name := range names {
		factory, ok := factories[strings.TrimSpace(name)]
		if !ok {
			return nil, errors.New().WithData(ErrUnknownStage,
				fmt.Sprintf("unknown stage %q (known: %s)", name, strings.Join(Names(), ", ")))
		}
		s, err := factory(p)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// Names lists the registered stage names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
