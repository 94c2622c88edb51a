package threshold

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Layer names used by the default threshold tables.
const (
	LayerPOP  = "POP"
	LayerLST  = "LST"
	LayerNDVI = "NDVI"
	LayerSMAP = "SMAP"
	LayerSMOS = "SMOS"
)

// Default single intervals for binary classification.
var defaultBinary = map[string]Interval{
	LayerLST:  {Lower: 20, Upper: 35},
	LayerSMAP: {Lower: 0.3, Upper: 0.9},
	LayerSMOS: {Lower: 0.3, Upper: 0.9},
	LayerNDVI: {Lower: 0.3, Upper: 1},
	LayerPOP:  {Lower: 0.1, Upper: 1},
}

// Default five-level risk tables, level 1 first.
var defaultLevels = map[string]Spec{
	LayerLST: {
		{{25, 27}},
		{{22, 25}, {27, 29}},
		{{20, 22}, {29, 30}},
		{{18, 20}},
		{{-Inf, 18}, {30, Inf}},
	},
	LayerNDVI: {
		{},
		{{0.6, 1}},
		{{0.3, 0.6}},
		{{0.1, 0.3}},
		{{-Inf, 0.1}},
	},
	LayerPOP: {
		{{-Inf, Inf}},
		{},
		{},
		{},
		{},
	},
	LayerSMAP: {
		{},
		{{0.3, 0.4}},
		{{0.1, 0.3}},
		{},
		{{-Inf, 0.2}, {0.4, Inf}},
	},
}

func init() {
	defaultLevels[LayerSMOS] = defaultLevels[LayerSMAP]
}

// DefaultInterval returns the built-in binary interval for a layer.
func DefaultInterval(layer string) (Interval, error) {
	iv, ok := defaultBinary[strings.ToUpper(layer)]
	if !ok {
		return Interval{}, eris.Errorf("threshold: no default interval for layer %q", layer)
	}
	return iv, nil
}

// DefaultSpec returns a copy of the built-in risk levels for a layer.
func DefaultSpec(layer string) (Spec, error) {
	s, ok := defaultLevels[strings.ToUpper(layer)]
	if !ok {
		return nil, eris.Errorf("threshold: no default levels for layer %q", layer)
	}
	return s.Clone(), nil
}
