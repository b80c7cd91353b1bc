// Package source resolves and validates upstream raster references. A
// reference is either a direct COG locator or assembled from structured
// dataset/region/timestamp components under a configured base location.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oceanviz/tilecache/internal/core/observability"
)

// ErrUnavailable marks a reference that does not resolve to existing data.
// It is a modeled outcome (client-facing 404), not a fault.
var ErrUnavailable = errors.New("source unavailable")

// Components identifies a COG by its catalog coordinates instead of a URL.
type Components struct {
	Dataset   string
	Region    string
	Timestamp string
}

type Resolver struct {
	baseURL      string
	http         *http.Client
	probeTimeout time.Duration
	logger       *slog.Logger
}

func NewResolver(baseURL string, client *http.Client, probeTimeout time.Duration, logger *slog.Logger) (*Resolver, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("source: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("source: parse base URL: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		baseURL:      baseURL,
		http:         client,
		probeTimeout: probeTimeout,
		logger:       logger,
	}, nil
}

// ResolveDirect checks a caller-supplied locator for basic well-formedness
// and returns it verbatim.
func (r *Resolver) ResolveDirect(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("source: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("source: parse reference %q: %w", ref, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("source: unsupported scheme %q", u.Scheme)
	}
	return ref, nil
}

// ResolveMosaic checks a caller-supplied MosaicJSON manifest locator.
// Mosaic refs are always direct URLs and must point at a .json manifest.
func (r *Resolver) ResolveMosaic(ref string) (string, error) {
	ref, err := r.ResolveDirect(ref)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(strings.ToLower(ref), ".json") {
		return "", fmt.Errorf("source: mosaic reference %q is not a .json manifest", ref)
	}
	return ref, nil
}

// Resolve assembles the canonical locator for structured components using
// the fixed layout <base>/<region>/<dataset>/<timestamp>_cog.tif.
func (r *Resolver) Resolve(c Components) (string, error) {
	ds := strings.TrimSpace(c.Dataset)
	region := strings.TrimSpace(c.Region)
	ts := strings.TrimSpace(c.Timestamp)
	if ds == "" || region == "" || ts == "" {
		return "", errors.New("source: dataset, region and timestamp are all required")
	}
	return fmt.Sprintf("%s/%s/%s/%s_cog.tif",
		r.baseURL, url.PathEscape(region), url.PathEscape(ds), url.PathEscape(ts)), nil
}

// Collection returns the locator of the directory holding every timestamped
// COG for a dataset in a region. Matches the layout used by Resolve.
func (r *Resolver) Collection(dataset, region string) (string, error) {
	ds := strings.TrimSpace(dataset)
	reg := strings.TrimSpace(region)
	if ds == "" || reg == "" {
		return "", errors.New("source: dataset and region are required")
	}
	return fmt.Sprintf("%s/%s/%s", r.baseURL, url.PathEscape(reg), url.PathEscape(ds)), nil
}

// Validate probes the upstream store for existence with a HEAD request. It
// reads no payload; a missing object maps to ErrUnavailable so callers can
// short-circuit before paying for a render.
func (r *Resolver) Validate(ctx context.Context, sourceRef string) error {
	if r.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceRef, nil)
	if err != nil {
		return fmt.Errorf("source: build probe request: %w", err)
	}

	start := time.Now()
	resp, err := r.http.Do(req)
	observability.ObserveUpstreamLatency("source_probe", time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("source: probe %q: %w", sourceRef, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Warn("close probe response body", "err", cerr)
		}
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrUnavailable, sourceRef)
	case resp.StatusCode == http.StatusForbidden:
		// buckets commonly answer 403 for absent objects
		return fmt.Errorf("%w: %s (status 403)", ErrUnavailable, sourceRef)
	default:
		return fmt.Errorf("source: probe %q status=%d", sourceRef, resp.StatusCode)
	}
}
