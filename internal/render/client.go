// Package render is the client boundary to the external raster renderer.
// The renderer decodes, reprojects and colors COG data into PNG tiles; this
// service only forwards normalized parameters and interprets its failures.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oceanviz/tilecache/internal/core/model"
	"github.com/oceanviz/tilecache/internal/core/observability"
	"github.com/oceanviz/tilecache/internal/source"
)

// ErrRenderFailed marks renderer errors that are not source-unavailable;
// surfaced to clients as an internal error and never retried here.
var ErrRenderFailed = errors.New("render failed")

type Params struct {
	SourceRef  string
	Z, X, Y    int
	ValueMin   float64
	ValueMax   float64
	ColormapID string
	Expression string
	Resampling model.Resampling

	// Mosaic selects the mosaicjson endpoint family; SourceRef is then a
	// manifest URL rather than a single COG.
	Mosaic bool
}

type Renderer interface {
	Render(ctx context.Context, p Params) ([]byte, error)
	QueryPoint(ctx context.Context, mosaicRef string, lon, lat float64) ([]byte, error)
}

// HTTPRenderer drives a TiTiler-style endpoint:
// GET <base>/cog/tiles/WebMercatorQuad/{z}/{x}/{y}.png?url=...&rescale=min,max&colormap_name=...
// and its mosaicjson twin for manifest-backed tiles and point queries.
type HTTPRenderer struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewHTTPRenderer(baseURL string, client *http.Client, timeout time.Duration, logger *slog.Logger) (*HTTPRenderer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("render: renderer URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("render: parse renderer URL: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRenderer{baseURL: baseURL, http: client, timeout: timeout, logger: logger}, nil
}

func (r *HTTPRenderer) Render(ctx context.Context, p Params) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("url", p.SourceRef)
	q.Set("rescale", formatRange(p.ValueMin, p.ValueMax))
	q.Set("colormap_name", p.ColormapID)
	q.Set("resampling", string(p.Resampling))
	if p.Expression != "" {
		q.Set("expression", p.Expression)
	}

	family := "cog"
	if p.Mosaic {
		family = "mosaicjson"
	}
	u := fmt.Sprintf("%s/%s/tiles/WebMercatorQuad/%d/%d/%d.png?%s",
		r.baseURL, family, p.Z, p.X, p.Y, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("render: build request: %w", err)
	}
	req.Header.Set("Accept", "image/png")

	start := time.Now()
	resp, err := r.http.Do(req)
	observability.ObserveUpstreamLatency("renderer", time.Since(start).Seconds())
	if err != nil {
		observability.IncRenderResult("transport_error")
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Warn("close render response body", "err", cerr)
		}
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.IncRenderResult("read_error")
			return nil, fmt.Errorf("%w: read body: %v", ErrRenderFailed, err)
		}
		observability.IncRenderResult("ok")
		return body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		observability.IncRenderResult("source_unavailable")
		return nil, fmt.Errorf("%w: %s", source.ErrUnavailable, p.SourceRef)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		observability.IncRenderResult("upstream_error")
		return nil, fmt.Errorf("%w: status=%d body=%q", ErrRenderFailed,
			resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

// QueryPoint reads the band values under a coordinate from a mosaic
// manifest: GET <base>/mosaicjson/point/{lon},{lat}?url=... The response
// body is the renderer's JSON, forwarded unparsed.
func (r *HTTPRenderer) QueryPoint(ctx context.Context, mosaicRef string, lon, lat float64) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("url", mosaicRef)
	u := fmt.Sprintf("%s/mosaicjson/point/%s,%s?%s",
		r.baseURL,
		strconv.FormatFloat(lon, 'f', -1, 64),
		strconv.FormatFloat(lat, 'f', -1, 64),
		q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("render: build point request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.http.Do(req)
	observability.ObserveUpstreamLatency("renderer", time.Since(start).Seconds())
	if err != nil {
		observability.IncRenderResult("transport_error")
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Warn("close point response body", "err", cerr)
		}
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.IncRenderResult("read_error")
			return nil, fmt.Errorf("%w: read body: %v", ErrRenderFailed, err)
		}
		observability.IncRenderResult("ok")
		return body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		observability.IncRenderResult("source_unavailable")
		return nil, fmt.Errorf("%w: %s", source.ErrUnavailable, mosaicRef)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		observability.IncRenderResult("upstream_error")
		return nil, fmt.Errorf("%w: status=%d body=%q", ErrRenderFailed,
			resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

func formatRange(lo, hi float64) string {
	return strconv.FormatFloat(lo, 'f', -1, 64) + "," + strconv.FormatFloat(hi, 'f', -1, 64)
}

var _ Renderer = (*HTTPRenderer)(nil)
