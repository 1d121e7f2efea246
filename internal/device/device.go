// Package device holds the acquisition presets for supported headsets.
package device

import (
	"fmt"
	"sort"
	"strings"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/source"
)

// Kind selects how samples reach the pipeline.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindSimulated Kind = "simulated"
)

type Preset struct {
	Name         string
	Kind         Kind
	SamplingRate int
	ChannelNames []string
	Capacity     int
	Port         int
	Topic        string
	Layout       source.Layout
}

// Channels returns the number of channels the preset streams.
func (p Preset) Channels() int {
	return len(p.ChannelNames)
}

var presets = map[string]Preset{
	"muse-s": {
		Name:         "muse-s",
		Kind:         KindNetwork,
		SamplingRate: 256,
		ChannelNames: []string{"TP9", "AF7", "AF8", "TP10"},
		Capacity:     256 * 30,
		Port:         5000,
		Topic:        "/muse/eeg",
		Layout:       source.Layout{SeqIndex: -1},
	},
	// dummy matches cmd/eegsim: (unix_ts, lsl_ts, sample_id, v0..v4) with
	// the last value unused.
	"dummy": {
		Name:         "dummy",
		Kind:         KindNetwork,
		SamplingRate: 256,
		ChannelNames: []string{"CH1", "CH2", "CH3", "CH4"},
		Capacity:     256 * 30,
		Port:         14739,
		Topic:        "/random",
		Layout:       source.Layout{SeqIndex: 2, ValueOffset: 3, Trailing: 1},
	},
	"simulated": {
		Name:         "simulated",
		Kind:         KindSimulated,
		SamplingRate: 256,
		ChannelNames: []string{"TP9", "AF7", "AF8", "TP10"},
		Capacity:     256 * 30,
	},
}

var aliases = map[string]string{
	"muses": "muse-s",
}

// Lookup returns the preset registered under name. Names are case
// insensitive.
func Lookup(name string) (Preset, error) {
	key := strings.ToLower(name)
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	p, ok := presets[key]
	if !ok {
		return Preset{}, errors.New().WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("unknown device %q (known: %s)", name, strings.Join(Names(), ", ")))
	}
	p.ChannelNames = append([]string(nil), p.ChannelNames...)
	return p, nil
}

// Names lists the registered presets in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseKind validates a source kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindNetwork, KindSimulated:
		return k, nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidConfig, fmt.Sprintf("unknown source kind %q", s))
	}
}
