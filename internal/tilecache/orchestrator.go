// Package tilecache composes key building, the cache store, source
// validation and the renderer into a cache-aside tile handler.
package tilecache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oceanviz/tilecache/internal/cache"
	"github.com/oceanviz/tilecache/internal/cache/keys"
	"github.com/oceanviz/tilecache/internal/colormap"
	"github.com/oceanviz/tilecache/internal/core/model"
	"github.com/oceanviz/tilecache/internal/render"
	"github.com/oceanviz/tilecache/internal/source"
)

// Status is the HTTP-like outcome of a tile request.
type Status int

const (
	StatusOK Status = iota
	StatusBadRequest
	StatusNotFound
	StatusInternalError
)

type Result struct {
	Payload     []byte
	CacheStatus model.CacheStatus
	Status      Status
	Err         error
}

// Validator is the subset of the source resolver the orchestrator needs.
type Validator interface {
	Validate(ctx context.Context, sourceRef string) error
}

type Orchestrator struct {
	logger    *slog.Logger
	store     cache.Store
	validator Validator
	renderer  render.Renderer
	palettes  *colormap.Registry
	synth     *colormap.Synthesizer
	ttl       time.Duration

	// one in-flight render per key; identical concurrent misses share it
	flight singleflight.Group
}

func New(logger *slog.Logger, store cache.Store, v Validator, r render.Renderer,
	palettes *colormap.Registry, synth *colormap.Synthesizer, ttl time.Duration) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:    logger,
		store:     store,
		validator: v,
		renderer:  r,
		palettes:  palettes,
		synth:     synth,
		ttl:       ttl,
	}
}

// ServeTile runs one request through the cache-aside flow. The store is
// never load-bearing: a failing Get is a miss, a failing Set is a no-op,
// and the freshly rendered payload is returned either way.
func (o *Orchestrator) ServeTile(ctx context.Context, req model.TileRequest) Result {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return Result{Status: StatusBadRequest, CacheStatus: model.CacheMiss, Err: err}
	}
	if _, ok := o.palettes.Get(req.ColormapID); !ok {
		return Result{
			Status:      StatusBadRequest,
			CacheStatus: model.CacheMiss,
			Err:         errors.Join(model.ErrInvalidRequest, errors.New("unknown colormap "+req.ColormapID)),
		}
	}

	key := keys.Key(req)

	payload, found, err := o.store.Get(ctx, key)
	if err != nil {
		// fail open: a broken cache backend must not break tile serving
		o.logger.Warn("cache get failed, treating as miss", "key", key, "err", err)
	}
	if found {
		o.logger.Debug("tile served from cache",
			"key", key, "dur", time.Since(start))
		return Result{Payload: payload, CacheStatus: model.CacheHit, Status: StatusOK}
	}

	out, err, shared := o.flight.Do(key, func() (any, error) {
		// the flight outlives any single caller: detach from the
		// initiating request so one client hanging up does not fail the
		// waiters sharing this render. Probe and render carry their own
		// timeouts, so the detached work stays bounded.
		return o.renderAndStore(context.WithoutCancel(ctx), req, key)
	})
	if err != nil {
		return o.classify(err)
	}
	if shared {
		o.logger.Debug("tile shared from in-flight render", "key", key)
	}

	o.logger.Info("tile rendered",
		"key", key,
		"z", req.Z, "x", req.X, "y", req.Y,
		"colormap", req.ColormapID,
		"shared", shared,
		"dur", time.Since(start))
	return Result{Payload: out.([]byte), CacheStatus: model.CacheMiss, Status: StatusOK}
}

func (o *Orchestrator) renderAndStore(ctx context.Context, req model.TileRequest, key string) ([]byte, error) {
	if err := o.validator.Validate(ctx, req.SourceRef); err != nil {
		if errors.Is(err, source.ErrUnavailable) {
			return nil, err
		}
		// probe is a fast-path approximation of the renderer's own check;
		// a transient probe fault falls through to the authoritative path
		o.logger.Warn("source probe failed, deferring to renderer", "source", req.SourceRef, "err", err)
	}

	body, err := o.renderer.Render(ctx, render.Params{
		SourceRef:  req.SourceRef,
		Z:          req.Z,
		X:          req.X,
		Y:          req.Y,
		ValueMin:   req.ValueMin,
		ValueMax:   req.ValueMax,
		ColormapID: req.ColormapID,
		Expression: req.Expression,
		Resampling: req.Resampling,
		Mosaic:     req.Mosaic,
	})
	if err != nil {
		return nil, err
	}

	if serr := o.store.Set(ctx, key, body, o.ttl); serr != nil {
		o.logger.Warn("cache set failed, serving uncached", "key", key, "err", serr)
	}
	return body, nil
}

// ServePoint runs a mosaic point query through the same cache-aside flow
// as tiles. The payload is the renderer's JSON response.
func (o *Orchestrator) ServePoint(ctx context.Context, mosaicRef string, lon, lat float64) Result {
	if strings.TrimSpace(mosaicRef) == "" {
		return Result{
			Status:      StatusBadRequest,
			CacheStatus: model.CacheMiss,
			Err:         errors.Join(model.ErrInvalidRequest, errors.New("empty mosaic reference")),
		}
	}
	if !(lon >= -180 && lon <= 180) || !(lat >= -90 && lat <= 90) {
		return Result{
			Status:      StatusBadRequest,
			CacheStatus: model.CacheMiss,
			Err:         errors.Join(model.ErrInvalidRequest, errors.New("coordinate outside lon/lat bounds")),
		}
	}

	key := keys.PointKey(mosaicRef, lon, lat)

	payload, found, err := o.store.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache get failed, treating as miss", "key", key, "err", err)
	}
	if found {
		return Result{Payload: payload, CacheStatus: model.CacheHit, Status: StatusOK}
	}

	out, err, _ := o.flight.Do(key, func() (any, error) {
		return o.queryAndStore(context.WithoutCancel(ctx), mosaicRef, lon, lat, key)
	})
	if err != nil {
		return o.classify(err)
	}
	return Result{Payload: out.([]byte), CacheStatus: model.CacheMiss, Status: StatusOK}
}

func (o *Orchestrator) queryAndStore(ctx context.Context, mosaicRef string, lon, lat float64, key string) ([]byte, error) {
	if err := o.validator.Validate(ctx, mosaicRef); err != nil {
		if errors.Is(err, source.ErrUnavailable) {
			return nil, err
		}
		o.logger.Warn("mosaic probe failed, deferring to renderer", "source", mosaicRef, "err", err)
	}

	body, err := o.renderer.QueryPoint(ctx, mosaicRef, lon, lat)
	if err != nil {
		return nil, err
	}
	if serr := o.store.Set(ctx, key, body, o.ttl); serr != nil {
		o.logger.Warn("cache set failed, serving uncached", "key", key, "err", serr)
	}
	return body, nil
}

func (o *Orchestrator) classify(err error) Result {
	switch {
	case errors.Is(err, source.ErrUnavailable):
		return Result{Status: StatusNotFound, CacheStatus: model.CacheMiss, Err: err}
	case errors.Is(err, model.ErrInvalidRequest):
		return Result{Status: StatusBadRequest, CacheStatus: model.CacheMiss, Err: err}
	default:
		return Result{Status: StatusInternalError, CacheStatus: model.CacheMiss, Err: err}
	}
}

// Stats exposes the store's hit/miss counters.
func (o *Orchestrator) Stats() cache.Stats {
	return o.store.Stats()
}

// Colormap returns the synthesized lookup table for a registered palette at
// the given resolution, memoized across calls.
func (o *Orchestrator) Colormap(name string, resolution int) (colormap.Colormap, *colormap.StopTable, error) {
	t, ok := o.palettes.Get(name)
	if !ok {
		return colormap.Colormap{}, nil, errors.Join(model.ErrInvalidRequest, errors.New("unknown colormap "+name))
	}
	cm, err := o.synth.Synthesize(t, resolution)
	if err != nil {
		return colormap.Colormap{}, nil, err
	}
	return cm, t, nil
}
