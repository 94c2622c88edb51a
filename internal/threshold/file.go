package threshold

import (
	"io"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LayerThresholds is the YAML shape of one layer's thresholds. Either field
// may be omitted; missing values fall back to the built-in defaults.
type LayerThresholds struct {
	Interval *Interval `yaml:"interval,omitempty"`
	Levels   Spec      `yaml:"levels,omitempty"`
}

// File is a threshold file keyed by layer name.
type File struct {
	Layers map[string]LayerThresholds `yaml:"layers"`
}

// Set resolves binary intervals and risk levels per layer, with file entries
// taking precedence over defaults.
type Set struct {
	file File
}

// LoadFile reads a YAML threshold file. `.inf` edges are clamped to ±Inf.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "threshold: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Decode(f)
}

// Decode parses a threshold file from r.
func Decode(r io.Reader) (*Set, error) {
	var file File
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "threshold: decode yaml")
	}

	norm := make(map[string]LayerThresholds, len(file.Layers))
	for name, lt := range file.Layers {
		if lt.Interval != nil {
			iv := clamp(*lt.Interval)
			if err := iv.Validate(); err != nil {
				return nil, eris.Wrapf(err, "threshold: layer %s interval", name)
			}
			lt.Interval = &iv
		}
		for _, set := range lt.Levels {
			for i := range set {
				set[i] = clamp(set[i])
			}
		}
		if err := lt.Levels.Validate(); err != nil {
			return nil, eris.Wrapf(err, "threshold: layer %s", name)
		}
		norm[strings.ToUpper(name)] = lt
	}
	return &Set{file: File{Layers: norm}}, nil
}

// Defaults returns a Set backed only by the built-in tables.
func Defaults() *Set {
	return &Set{file: File{Layers: map[string]LayerThresholds{}}}
}

// Interval returns the binary interval for a layer.
func (s *Set) Interval(layer string) (Interval, error) {
	if lt, ok := s.file.Layers[strings.ToUpper(layer)]; ok && lt.Interval != nil {
		return *lt.Interval, nil
	}
	return DefaultInterval(layer)
}

// Spec returns the risk levels for a layer.
func (s *Set) Spec(layer string) (Spec, error) {
	if lt, ok := s.file.Layers[strings.ToUpper(layer)]; ok && len(lt.Levels) > 0 {
		return lt.Levels.Clone(), nil
	}
	return DefaultSpec(layer)
}

// Override replaces the risk levels of a layer, e.g. with estimated ones.
func (s *Set) Override(layer string, spec Spec) {
	key := strings.ToUpper(layer)
	lt := s.file.Layers[key]
	lt.Levels = spec.Clone()
	s.file.Layers[key] = lt
}

// Encode writes the set as YAML.
func (s *Set) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s.file); err != nil {
		return eris.Wrap(err, "threshold: encode yaml")
	}
	return eris.Wrap(enc.Close(), "threshold: close encoder")
}

func clamp(iv Interval) Interval {
	if math.IsInf(iv.Lower, -1) {
		iv.Lower = -Inf
	}
	if math.IsInf(iv.Upper, 1) {
		iv.Upper = Inf
	}
	return iv
}
