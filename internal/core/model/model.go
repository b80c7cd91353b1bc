// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidRequest marks requests rejected before any I/O is attempted.
var ErrInvalidRequest = errors.New("invalid request")

type Resampling string

const (
	ResamplingNearest  Resampling = "nearest"
	ResamplingBilinear Resampling = "bilinear"
	ResamplingCubic    Resampling = "cubic"
)

func ParseResampling(s string) (Resampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest":
		return ResamplingNearest, nil
	case "", "bilinear":
		return ResamplingBilinear, nil
	case "cubic":
		return ResamplingCubic, nil
	default:
		return "", fmt.Errorf("%w: unsupported resampling %q", ErrInvalidRequest, s)
	}
}

type CacheStatus string

const (
	CacheHit  CacheStatus = "HIT"
	CacheMiss CacheStatus = "MISS"
)

// MaxZoom bounds the tile pyramid depth accepted by the service.
const MaxZoom = 24

// TileRequest is the normalized form of an inbound tile fetch.
// SourceRef is either a direct COG locator or assembled from
// dataset/region/timestamp by the source resolver before this struct
// reaches the cache layer.
type TileRequest struct {
	SourceRef  string
	Z, X, Y    int
	ValueMin   float64
	ValueMax   float64
	ColormapID string
	Expression string
	Resampling Resampling

	// Mosaic marks SourceRef as a MosaicJSON manifest instead of a single
	// COG; the renderer composes the tile from the manifest's members.
	Mosaic bool
}

// Validate checks the numeric and coordinate invariants. It never touches
// the network; violations map to a BAD_REQUEST outcome.
func (r TileRequest) Validate() error {
	if strings.TrimSpace(r.SourceRef) == "" {
		return fmt.Errorf("%w: empty source reference", ErrInvalidRequest)
	}
	if r.Z < 0 || r.Z > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0,%d]", ErrInvalidRequest, r.Z, MaxZoom)
	}
	limit := 1 << uint(r.Z)
	if r.X < 0 || r.X >= limit || r.Y < 0 || r.Y >= limit {
		return fmt.Errorf("%w: tile %d/%d/%d outside pyramid bounds", ErrInvalidRequest, r.Z, r.X, r.Y)
	}
	if math.IsNaN(r.ValueMin) || math.IsInf(r.ValueMin, 0) ||
		math.IsNaN(r.ValueMax) || math.IsInf(r.ValueMax, 0) {
		return fmt.Errorf("%w: non-finite value range", ErrInvalidRequest)
	}
	if r.ValueMin >= r.ValueMax {
		return fmt.Errorf("%w: value range min %g must be below max %g", ErrInvalidRequest, r.ValueMin, r.ValueMax)
	}
	if strings.TrimSpace(r.ColormapID) == "" {
		return fmt.Errorf("%w: missing colormap", ErrInvalidRequest)
	}
	switch r.Resampling {
	case ResamplingNearest, ResamplingBilinear, ResamplingCubic:
	default:
		return fmt.Errorf("%w: unsupported resampling %q", ErrInvalidRequest, r.Resampling)
	}
	return nil
}
