package colormap

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Registry maps palette names to stop tables. It is populated once at
// startup and read-shared afterwards; duplicate names are rejected at load
// time rather than resolved last-write-wins, so a palette collision is a
// deploy failure instead of a silent rendering change.
type Registry struct {
	tables map[string]*StopTable
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*StopTable)}
}

func (r *Registry) Register(name string, t *StopTable) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("colormap: empty palette name")
	}
	if t == nil {
		return fmt.Errorf("colormap: nil table for palette %q", name)
	}
	if _, exists := r.tables[name]; exists {
		return fmt.Errorf("colormap: palette %q already registered", name)
	}
	r.tables[name] = t
	return nil
}

// Alias registers an additional name for an existing palette.
func (r *Registry) Alias(alias, name string) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("colormap: alias target %q not registered", name)
	}
	return r.Register(alias, t)
}

func (r *Registry) Get(name string) (*StopTable, bool) {
	t, ok := r.tables[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tables))
	for n := range r.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TableFromHex builds a stop table from a ramp of hex colors spaced evenly
// across the domain in the table's interpolation space (even decades for
// log10, even values for linear).
func TableFromHex(hexColors []string, domainMin, domainMax float64, space Space) (*StopTable, error) {
	if len(hexColors) < 2 {
		return nil, fmt.Errorf("colormap: need at least 2 colors, got %d", len(hexColors))
	}
	lo, hi := domainMin, domainMax
	if space == SpaceLog10 {
		if domainMin <= 0 {
			return nil, fmt.Errorf("colormap: log10 ramp requires positive domain, got min %g", domainMin)
		}
		lo, hi = math.Log10(domainMin), math.Log10(domainMax)
	}

	stops := make([]ColorStop, len(hexColors))
	n := float64(len(hexColors) - 1)
	for i, hc := range hexColors {
		c, err := ParseHex(hc)
		if err != nil {
			return nil, err
		}
		v := lo + (float64(i)/n)*(hi-lo)
		if space == SpaceLog10 {
			v = math.Pow(10, v)
		}
		// pin the ends exactly to the domain bounds
		if i == 0 {
			v = domainMin
		} else if i == len(hexColors)-1 {
			v = domainMax
		}
		stops[i] = ColorStop{Value: v, Color: c}
	}
	return NewStopTable(stops, domainMin, domainMax, space)
}
