// Package keys builds canonical cache keys for normalized tile requests.
//
// Keys are deterministic: two semantically identical requests produce
// byte-identical keys regardless of parameter formatting ("32" and "32.00"
// canonicalize to the same range segment). Long or unbounded inputs (the
// source locator, the band expression) enter the key as xxhash64 digests;
// the collision probability for two distinct inputs is ~2^-64 per pair,
// which is negligible at cache scale.
package keys

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/oceanviz/tilecache/internal/core/model"
)

// Key derives the canonical cache key for req. Pure and total: it never
// errors, even on requests that would fail validation.
//
// The source locator is digested in two parts, collection (the directory
// portion) and item (the final path segment), so that every key for one
// collection shares a prefix and republish events can evict it with a
// single prefix delete.
func Key(req model.TileRequest) string {
	dir, item := splitRef(strings.TrimSpace(req.SourceRef))
	rng := canonicalRange(req.ValueMin, req.ValueMax)
	cmap := sanitizeID(strings.ToLower(strings.TrimSpace(req.ColormapID)))
	mode := string(req.Resampling)

	// mosaic tiles get their own namespace so a manifest and a plain COG
	// can never share an entry
	class := "t"
	if req.Mosaic {
		class = "m"
	}
	k := fmt.Sprintf("%s:%016x:%016x:%d:%d:%d:r=%s:c=%s:m=%s",
		class, xxhash.Sum64String(dir), xxhash.Sum64String(item),
		req.Z, req.X, req.Y, rng, cmap, mode)

	if expr := canonicalExpression(req.Expression); expr != "" {
		k += fmt.Sprintf(":e=%016x", xxhash.Sum64String(expr))
	}
	return k
}

// PointKey derives the cache key for a point query against a mosaic
// manifest. Coordinates enter verbatim; clients quantize them upstream.
func PointKey(ref string, lon, lat float64) string {
	dir, item := splitRef(strings.TrimSpace(ref))
	return fmt.Sprintf("q:%016x:%016x:%s,%s",
		xxhash.Sum64String(dir), xxhash.Sum64String(item),
		strconv.FormatFloat(lon, 'f', -1, 64),
		strconv.FormatFloat(lat, 'f', -1, 64))
}

// CollectionPrefix returns the key prefix shared by every tile rendered
// from sources under ref (a collection locator without the item segment).
func CollectionPrefix(ref string) string {
	return fmt.Sprintf("t:%016x:", xxhash.Sum64String(strings.TrimSpace(ref)))
}

func splitRef(ref string) (dir, item string) {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// round to 2 decimals so float formatting noise does not fragment the cache
func canonicalRange(lo, hi float64) string {
	return formatRounded(lo) + "," + formatRounded(hi)
}

func formatRounded(v float64) string {
	r := math.Round(v*100) / 100
	if r == 0 {
		r = 0 // normalize -0
	}
	return strconv.FormatFloat(r, 'f', 2, 64)
}

// strip all whitespace; expression syntax carries no meaning in spaces
func canonicalExpression(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sanitizeID(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
