// Package colormap synthesizes dense color lookup tables from sparse
// (value, color) stop tables. Stops may be positioned in linear or log10
// data space; log10 spacing gives perceptually even color resolution to
// quantities spanning decades (chlorophyll, turbidity).
package colormap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

type Space int

const (
	SpaceLinear Space = iota
	SpaceLog10
)

func (s Space) String() string {
	if s == SpaceLog10 {
		return "log10"
	}
	return "linear"
}

type RGBA struct {
	R, G, B, A uint8
}

// ColorStop anchors a data value to a color; values between neighboring
// stops are interpolated.
type ColorStop struct {
	Value float64
	Color RGBA
}

// StopTable is an immutable, validated ordered set of color stops plus the
// declared data domain. Construct only through NewStopTable.
type StopTable struct {
	stops     []ColorStop
	domainMin float64
	domainMax float64
	space     Space
	id        uint64
}

// NewStopTable validates the stop invariants up front so sampling never has
// to: at least two stops, strictly increasing finite values inside the
// domain, and a positive domain minimum when log10 spacing is requested.
func NewStopTable(stops []ColorStop, domainMin, domainMax float64, space Space) (*StopTable, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("colormap: need at least 2 stops, got %d", len(stops))
	}
	if math.IsNaN(domainMin) || math.IsInf(domainMin, 0) ||
		math.IsNaN(domainMax) || math.IsInf(domainMax, 0) {
		return nil, errors.New("colormap: non-finite domain bound")
	}
	if domainMin >= domainMax {
		return nil, fmt.Errorf("colormap: domain min %g must be below max %g", domainMin, domainMax)
	}
	if space == SpaceLog10 && domainMin <= 0 {
		return nil, fmt.Errorf("colormap: log10 spacing requires a positive domain, got min %g", domainMin)
	}
	prev := math.Inf(-1)
	for i, s := range stops {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return nil, fmt.Errorf("colormap: stop %d has non-finite value", i)
		}
		if s.Value < domainMin || s.Value > domainMax {
			return nil, fmt.Errorf("colormap: stop %d value %g outside domain [%g,%g]", i, s.Value, domainMin, domainMax)
		}
		if s.Value <= prev {
			return nil, fmt.Errorf("colormap: stop values must be strictly increasing (stop %d)", i)
		}
		prev = s.Value
	}

	cp := make([]ColorStop, len(stops))
	copy(cp, stops)
	t := &StopTable{stops: cp, domainMin: domainMin, domainMax: domainMax, space: space}
	t.id = t.fingerprint()
	return t, nil
}

func (t *StopTable) Stops() []ColorStop {
	cp := make([]ColorStop, len(t.stops))
	copy(cp, t.stops)
	return cp
}

func (t *StopTable) Domain() (float64, float64) { return t.domainMin, t.domainMax }
func (t *StopTable) Space() Space               { return t.space }

// ID is a content fingerprint; identical tables share an ID, which keys the
// synthesis memo cache.
func (t *StopTable) ID() uint64 { return t.id }

func (t *StopTable) fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	put := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = h.Write(buf[:])
	}
	put(t.domainMin)
	put(t.domainMax)
	put(float64(t.space))
	for _, s := range t.stops {
		put(s.Value)
		_, _ = h.Write([]byte{s.Color.R, s.Color.G, s.Color.B, s.Color.A})
	}
	return h.Sum64()
}

func (t *StopTable) transform(v float64) float64 {
	if t.space == SpaceLog10 {
		return math.Log10(v)
	}
	return v
}

// Position maps v to [0,1] under the table's interpolation space. Values
// outside the domain clamp to the bounds, which also keeps log10 away from
// non-positive input.
func (t *StopTable) Position(v float64) float64 {
	if v <= t.domainMin {
		return 0
	}
	if v >= t.domainMax {
		return 1
	}
	lo := t.transform(t.domainMin)
	hi := t.transform(t.domainMax)
	return (t.transform(v) - lo) / (hi - lo)
}

// Colormap is the dense synthesized lookup table. Immutable once built.
type Colormap struct {
	colors []RGBA
}

func (c Colormap) Len() int { return len(c.colors) }

func (c Colormap) At(i int) RGBA {
	if i < 0 {
		i = 0
	}
	if i >= len(c.colors) {
		i = len(c.colors) - 1
	}
	return c.colors[i]
}

// Lookup returns the color for data value v under table positioning.
func (c Colormap) Lookup(t *StopTable, v float64) RGBA {
	idx := int(math.Round(t.Position(v) * float64(len(c.colors)-1)))
	return c.At(idx)
}

// Bytes flattens the table to RGBA octets; used for byte-level determinism
// checks and for shipping the table to the renderer.
func (c Colormap) Bytes() []byte {
	out := make([]byte, 0, len(c.colors)*4)
	for _, col := range c.colors {
		out = append(out, col.R, col.G, col.B, col.A)
	}
	return out
}

// Synthesize expands the stop table into a table of `resolution` colors.
// A stop at value v lands at index round((resolution-1) * Position(v)), so
// domainMin maps to index 0 and domainMax to resolution-1. Segments between
// consecutive stops are linearly interpolated per channel. The output is a
// pure function of (table, resolution).
func Synthesize(t *StopTable, resolution int) (Colormap, error) {
	if t == nil {
		return Colormap{}, errors.New("colormap: nil stop table")
	}
	if resolution < 2 {
		return Colormap{}, fmt.Errorf("colormap: resolution %d below minimum 2", resolution)
	}

	out := make([]RGBA, resolution)
	last := float64(resolution - 1)

	idxOf := func(v float64) int {
		return int(math.Round(t.Position(v) * last))
	}

	// below the first stop and above the last, hold the end colors
	first := t.stops[0]
	for i := 0; i <= idxOf(first.Value); i++ {
		out[i] = first.Color
	}
	lastStop := t.stops[len(t.stops)-1]
	for i := idxOf(lastStop.Value); i < resolution; i++ {
		out[i] = lastStop.Color
	}

	for s := 0; s+1 < len(t.stops); s++ {
		a, b := t.stops[s], t.stops[s+1]
		ia, ib := idxOf(a.Value), idxOf(b.Value)
		if ib <= ia {
			out[ib] = b.Color
			continue
		}
		span := float64(ib - ia)
		for i := ia; i <= ib; i++ {
			frac := float64(i-ia) / span
			out[i] = lerp(a.Color, b.Color, frac)
		}
	}

	return Colormap{colors: out}, nil
}

func lerp(c1, c2 RGBA, t float64) RGBA {
	return RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: uint8(float64(c1.A) + t*(float64(c2.A)-float64(c1.A))),
	}
}

// ParseHex parses "#RRGGBB" or "#RRGGBBAA" (leading '#' optional).
func ParseHex(s string) (RGBA, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	var r, g, b, a uint8 = 0, 0, 0, 255
	switch len(s) {
	case 8:
		if _, err := fmt.Sscanf(s, "%02x%02x%02x%02x", &r, &g, &b, &a); err != nil {
			return RGBA{}, fmt.Errorf("colormap: parse hex %q: %w", s, err)
		}
	case 6:
		if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
			return RGBA{}, fmt.Errorf("colormap: parse hex %q: %w", s, err)
		}
	default:
		return RGBA{}, fmt.Errorf("colormap: hex color %q must be 6 or 8 digits", s)
	}
	return RGBA{R: r, G: g, B: b, A: a}, nil
}
