package colormap

import (
	"sync"

	"github.com/oceanviz/tilecache/internal/core/observability"
)

type memoKey struct {
	table      uint64
	resolution int
}

// Synthesizer memoizes Synthesize results per (table identity, resolution).
// Synthesis is pure, so the memo is read-mostly and safe to share across
// requests.
type Synthesizer struct {
	mu   sync.RWMutex
	memo map[memoKey]Colormap
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{memo: make(map[memoKey]Colormap)}
}

func (s *Synthesizer) Synthesize(t *StopTable, resolution int) (Colormap, error) {
	if t != nil && resolution >= 2 {
		k := memoKey{table: t.ID(), resolution: resolution}
		s.mu.RLock()
		cm, ok := s.memo[k]
		s.mu.RUnlock()
		if ok {
			observability.IncColormapSynth(true)
			return cm, nil
		}

		cm, err := Synthesize(t, resolution)
		if err != nil {
			return Colormap{}, err
		}
		observability.IncColormapSynth(false)

		s.mu.Lock()
		s.memo[k] = cm
		s.mu.Unlock()
		return cm, nil
	}
	return Synthesize(t, resolution)
}
