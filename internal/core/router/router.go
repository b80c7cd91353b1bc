package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oceanviz/tilecache/internal/cache"
	"github.com/oceanviz/tilecache/internal/colormap"
	"github.com/oceanviz/tilecache/internal/core/config"
	"github.com/oceanviz/tilecache/internal/core/model"
	"github.com/oceanviz/tilecache/internal/core/observability"
	"github.com/oceanviz/tilecache/internal/source"
	"github.com/oceanviz/tilecache/internal/tilecache"
)

// TileHandler serves normalized tile requests; implemented by the
// orchestrator.
type TileHandler interface {
	ServeTile(ctx context.Context, req model.TileRequest) tilecache.Result
	ServePoint(ctx context.Context, mosaicRef string, lon, lat float64) tilecache.Result
	Stats() cache.Stats
	Colormap(name string, resolution int) (colormap.Colormap, *colormap.StopTable, error)
}

// Resolver is the subset of the source resolver the route layer needs to
// turn raw query params into a fully-qualified source reference.
type Resolver interface {
	Resolve(c source.Components) (string, error)
	ResolveDirect(ref string) (string, error)
	ResolveMosaic(ref string) (string, error)
}

// HandleTile validates raw tile parameters, resolves the source reference
// and hands the normalized request to the orchestrator.
func HandleTile(logger *slog.Logger, cfg config.Config, h TileHandler, res Resolver) http.HandlerFunc {
	return handleTile(logger, cfg, h, "/tiles", func(r *http.Request) (model.TileRequest, error) {
		return ParseTileRequest(r, cfg, res)
	})
}

// HandleMosaicTile is the manifest-backed variant: tiles are composed from
// the regional COGs listed in a MosaicJSON file.
func HandleMosaicTile(logger *slog.Logger, cfg config.Config, h TileHandler, res Resolver) http.HandlerFunc {
	return handleTile(logger, cfg, h, "/mosaicjson/tiles", func(r *http.Request) (model.TileRequest, error) {
		return ParseMosaicTileRequest(r, cfg, res)
	})
}

func handleTile(logger *slog.Logger, cfg config.Config, h TileHandler,
	route string, parse func(*http.Request) (model.TileRequest, error)) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		req, err := parse(r)
		if err != nil {
			sw.Header().Set("X-Cache", string(model.CacheMiss))
			http.Error(sw, err.Error(), statusForError(err))
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
			return
		}

		result := h.ServeTile(r.Context(), req)
		sw.Header().Set("X-Cache", string(result.CacheStatus))

		switch result.Status {
		case tilecache.StatusOK:
			sw.Header().Set("Content-Type", "image/png")
			sw.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cfg.CacheTTL.Seconds())))
			sw.Header().Set("X-Tile-Coords", fmt.Sprintf("%d/%d/%d", req.Z, req.X, req.Y))
			sw.WriteHeader(http.StatusOK)
			_, _ = sw.Write(result.Payload)
		case tilecache.StatusBadRequest:
			http.Error(sw, clientMessage(result.Err, "invalid tile request"), http.StatusBadRequest)
		case tilecache.StatusNotFound:
			http.Error(sw, "no data for the requested source", http.StatusNotFound)
		default:
			// internal detail stays in the logs
			logger.Error("tile request failed", "err", result.Err,
				"z", req.Z, "x", req.X, "y", req.Y, "source", req.SourceRef)
			http.Error(sw, "tile rendering failed", http.StatusInternalServerError)
		}
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

// ParseTileRequest normalizes raw query parameters into a TileRequest.
// The source is given either directly (url=) or as catalog components
// (dataset=, region=, time=).
func ParseTileRequest(r *http.Request, cfg config.Config, res Resolver) (model.TileRequest, error) {
	z, x, y, err := parseCoords(r)
	if err != nil {
		return model.TileRequest{}, err
	}

	q := r.URL.Query()

	var ref string
	if raw := strings.TrimSpace(q.Get("url")); raw != "" {
		ref, err = res.ResolveDirect(raw)
	} else {
		ref, err = res.Resolve(source.Components{
			Dataset:   q.Get("dataset"),
			Region:    q.Get("region"),
			Timestamp: q.Get("time"),
		})
	}
	if err != nil {
		return model.TileRequest{}, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}

	lo, hi, err := parseRescale(q.Get("rescale"))
	if err != nil {
		return model.TileRequest{}, err
	}

	cm := strings.ToLower(strings.TrimSpace(q.Get("colormap")))
	if cm == "" {
		return model.TileRequest{}, fmt.Errorf("%w: missing required parameter: colormap", model.ErrInvalidRequest)
	}

	resampling := q.Get("resampling")
	if resampling == "" {
		resampling = cfg.DefaultResampling
	}
	mode, err := model.ParseResampling(resampling)
	if err != nil {
		return model.TileRequest{}, err
	}

	req := model.TileRequest{
		SourceRef:  ref,
		Z:          z,
		X:          x,
		Y:          y,
		ValueMin:   lo,
		ValueMax:   hi,
		ColormapID: cm,
		Expression: strings.TrimSpace(q.Get("expression")),
		Resampling: mode,
	}
	if err := req.Validate(); err != nil {
		return model.TileRequest{}, err
	}
	return req, nil
}

// ParseMosaicTileRequest normalizes raw mosaic tile parameters. Unlike
// plain tiles there is no catalog form: the manifest URL is always given
// directly via url=.
func ParseMosaicTileRequest(r *http.Request, cfg config.Config, res Resolver) (model.TileRequest, error) {
	z, x, y, err := parseCoords(r)
	if err != nil {
		return model.TileRequest{}, err
	}

	q := r.URL.Query()

	ref, err := res.ResolveMosaic(q.Get("url"))
	if err != nil {
		return model.TileRequest{}, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}

	lo, hi, err := parseRescale(q.Get("rescale"))
	if err != nil {
		return model.TileRequest{}, err
	}

	cm := strings.ToLower(strings.TrimSpace(q.Get("colormap")))
	if cm == "" {
		return model.TileRequest{}, fmt.Errorf("%w: missing required parameter: colormap", model.ErrInvalidRequest)
	}

	resampling := q.Get("resampling")
	if resampling == "" {
		resampling = cfg.DefaultResampling
	}
	mode, err := model.ParseResampling(resampling)
	if err != nil {
		return model.TileRequest{}, err
	}

	req := model.TileRequest{
		SourceRef:  ref,
		Z:          z,
		X:          x,
		Y:          y,
		ValueMin:   lo,
		ValueMax:   hi,
		ColormapID: cm,
		Resampling: mode,
		Mosaic:     true,
	}
	if err := req.Validate(); err != nil {
		return model.TileRequest{}, err
	}
	return req, nil
}

// HandlePoint answers crosshair value queries against a mosaic manifest:
// GET /mosaicjson/point/{lon},{lat}?url=... The renderer's band values are
// reshaped into a stable client payload with the first band pulled out.
func HandlePoint(logger *slog.Logger, cfg config.Config, h TileHandler, res Resolver) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		done := func() {
			observability.ObserveHTTP(r.Method, "/mosaicjson/point", sw.code, time.Since(start).Seconds())
		}

		lon, err := strconv.ParseFloat(chi.URLParam(r, "lon"), 64)
		if err != nil {
			http.Error(sw, "longitude must be a number", http.StatusBadRequest)
			done()
			return
		}
		lat, err := strconv.ParseFloat(chi.URLParam(r, "lat"), 64)
		if err != nil {
			http.Error(sw, "latitude must be a number", http.StatusBadRequest)
			done()
			return
		}

		ref, err := res.ResolveMosaic(r.URL.Query().Get("url"))
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			done()
			return
		}

		result := h.ServePoint(r.Context(), ref, lon, lat)
		sw.Header().Set("X-Cache", string(result.CacheStatus))

		switch result.Status {
		case tilecache.StatusOK:
			var upstream struct {
				Values []struct {
					Band  int      `json:"band"`
					Value *float64 `json:"value"`
				} `json:"values"`
			}
			if err := json.Unmarshal(result.Payload, &upstream); err != nil {
				logger.Error("point response decode failed", "err", err, "source", ref)
				http.Error(sw, "point query failed", http.StatusInternalServerError)
				done()
				return
			}
			var first *float64
			if len(upstream.Values) > 0 {
				first = upstream.Values[0].Value
			}
			writeJSON(sw, map[string]any{
				"coordinates": []float64{lon, lat},
				"values":      upstream.Values,
				"value":       first,
			})
		case tilecache.StatusBadRequest:
			http.Error(sw, clientMessage(result.Err, "invalid point query"), http.StatusBadRequest)
		case tilecache.StatusNotFound:
			http.Error(sw, "no data for the requested source", http.StatusNotFound)
		default:
			logger.Error("point query failed", "err", result.Err,
				"lon", lon, "lat", lat, "source", ref)
			http.Error(sw, "point query failed", http.StatusInternalServerError)
		}
		done()
	}
}

// HandleDatasetRange reports the configured default value range for a
// dataset (slider bounds for clients).
func HandleDatasetRange(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		ds := chi.URLParam(r, "dataset")
		rng, ok := cfg.DatasetRanges[ds]
		if !ok {
			http.Error(sw, "unknown dataset", http.StatusNotFound)
			observability.ObserveHTTP(r.Method, "/metadata", sw.code, time.Since(start).Seconds())
			return
		}
		writeJSON(sw, map[string]any{
			"dataset": ds,
			"min":     rng.Min,
			"max":     rng.Max,
		})
		observability.ObserveHTTP(r.Method, "/metadata", sw.code, time.Since(start).Seconds())
	}
}

// HandleColormap returns the synthesized lookup table for a palette as a
// JSON preview.
func HandleColormap(cfg config.Config, h TileHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		name := chi.URLParam(r, "name")
		resolution := cfg.ColormapResolution
		if v := r.URL.Query().Get("resolution"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 2 || n > 4096 {
				http.Error(sw, "resolution must be an integer in [2,4096]", http.StatusBadRequest)
				observability.ObserveHTTP(r.Method, "/colormaps", sw.code, time.Since(start).Seconds())
				return
			}
			resolution = n
		}

		cm, table, err := h.Colormap(name, resolution)
		if err != nil {
			if errors.Is(err, model.ErrInvalidRequest) {
				http.Error(sw, "unknown colormap", http.StatusNotFound)
			} else {
				http.Error(sw, "colormap synthesis failed", http.StatusInternalServerError)
			}
			observability.ObserveHTTP(r.Method, "/colormaps", sw.code, time.Since(start).Seconds())
			return
		}

		lo, hi := table.Domain()
		colors := make([]string, cm.Len())
		for i := range colors {
			c := cm.At(i)
			colors[i] = fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
		}
		writeJSON(sw, map[string]any{
			"name":       strings.ToLower(strings.TrimSpace(name)),
			"space":      table.Space().String(),
			"domain":     []float64{lo, hi},
			"resolution": resolution,
			"colors":     colors,
		})
		observability.ObserveHTTP(r.Method, "/colormaps", sw.code, time.Since(start).Seconds())
	}
}

// HandleCacheStats exposes the store's hit/miss counters as JSON.
func HandleCacheStats(h TileHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := h.Stats()
		writeJSON(w, map[string]any{"hits": st.Hits, "misses": st.Misses})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func parseCoords(r *http.Request) (z, x, y int, err error) {
	z, err = strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: zoom: %v", model.ErrInvalidRequest, err)
	}
	x, err = strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: x: %v", model.ErrInvalidRequest, err)
	}
	y, err = strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: y: %v", model.ErrInvalidRequest, err)
	}
	return z, x, y, nil
}

func parseRescale(s string) (float64, float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("%w: missing required parameter: rescale", model.ErrInvalidRequest)
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: rescale must be 'min,max'", model.ErrInvalidRequest)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: rescale min: %v", model.ErrInvalidRequest, err)
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: rescale max: %v", model.ErrInvalidRequest, err)
	}
	return lo, hi, nil
}

func statusForError(err error) int {
	if errors.Is(err, model.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func clientMessage(err error, fallback string) string {
	if err != nil && errors.Is(err, model.ErrInvalidRequest) {
		return err.Error()
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
