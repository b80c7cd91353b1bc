package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/oceanviz/tilecache/internal/core/model"
)

func baseReq() model.TileRequest {
	return model.TileRequest{
		SourceRef: "https://cogs.example.com/gulf/sst/2026-08-20T00_cog.tif",
		Z:         6, X: 17, Y: 25,
		ValueMin:   32,
		ValueMax:   86,
		ColormapID: "sst_high_contrast",
		Resampling: model.ResamplingBilinear,
	}
}

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1 := Key(baseReq())
	k2 := Key(baseReq())
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestRangeCanonicalization_FormattingNoiseCollapses(t *testing.T) {
	a := baseReq()
	a.ValueMin, a.ValueMax = 32, 86

	b := baseReq()
	b.ValueMin, b.ValueMax = 32.0001, 85.9999 // rounds to 32.00, 86.00

	k1, k2 := Key(a), Key(b)
	if k1 != k2 {
		t.Fatalf("equivalent ranges produced different keys:\n k1=%s\n k2=%s", k1, k2)
	}
	if !strings.Contains(k1, ":r=32.00,86.00:") {
		t.Fatalf("range segment not canonicalized to 2 decimals: %s", k1)
	}
}

func TestRangeCanonicalization_NegativeZeroNormalizes(t *testing.T) {
	a := baseReq()
	a.ValueMin, a.ValueMax = -0.0001, 50

	k := Key(a)
	if !strings.Contains(k, ":r=0.00,50.00:") {
		t.Fatalf("-0 leaked into range segment: %s", k)
	}
}

func TestExpression_WhitespaceInsensitive_OmittedWhenEmpty(t *testing.T) {
	a := baseReq()
	a.Expression = " ( b1 - b2 ) / ( b1 + b2 ) "
	b := baseReq()
	b.Expression = "(b1-b2)/(b1+b2)"

	if Key(a) != Key(b) {
		t.Fatalf("whitespace variants produced different keys")
	}
	if !regexp.MustCompile(`:e=[0-9a-f]{16}$`).MatchString(Key(a)) {
		t.Fatalf("missing :e=<hex64> suffix: %s", Key(a))
	}

	c := baseReq()
	if strings.Contains(Key(c), ":e=") {
		t.Fatalf("empty expression must not add a segment: %s", Key(c))
	}
}

func TestDifference_EveryFieldParticipates(t *testing.T) {
	base := Key(baseReq())

	variants := []func(*model.TileRequest){
		func(r *model.TileRequest) { r.SourceRef = "https://cogs.example.com/gulf/sst/other_cog.tif" },
		func(r *model.TileRequest) { r.Z = 7 },
		func(r *model.TileRequest) { r.X = 18 },
		func(r *model.TileRequest) { r.Y = 26 },
		func(r *model.TileRequest) { r.ValueMin = 33 },
		func(r *model.TileRequest) { r.ValueMax = 87 },
		func(r *model.TileRequest) { r.ColormapID = "chlorophyll" },
		func(r *model.TileRequest) { r.Resampling = model.ResamplingNearest },
		func(r *model.TileRequest) { r.Expression = "b1*2" },
	}
	for i, mutate := range variants {
		r := baseReq()
		mutate(&r)
		if Key(r) == base {
			t.Fatalf("variant %d did not change the key: %s", i, base)
		}
	}
}

func TestCollectionPrefix_SharedByAllItemsInCollection(t *testing.T) {
	col := "https://cogs.example.com/gulf/sst"
	prefix := CollectionPrefix(col)

	a := baseReq()
	a.SourceRef = col + "/2026-08-20T00_cog.tif"
	b := baseReq()
	b.SourceRef = col + "/2026-08-21T00_cog.tif"
	b.Z, b.X, b.Y = 3, 1, 2

	if !strings.HasPrefix(Key(a), prefix) || !strings.HasPrefix(Key(b), prefix) {
		t.Fatalf("keys do not share collection prefix %s:\n %s\n %s", prefix, Key(a), Key(b))
	}

	other := baseReq()
	other.SourceRef = "https://cogs.example.com/gulf/chlorophyll/2026-08-20T00_cog.tif"
	if strings.HasPrefix(Key(other), prefix) {
		t.Fatalf("different collection matched prefix %s: %s", prefix, Key(other))
	}
}

func TestMosaicKeys_LiveInTheirOwnNamespace(t *testing.T) {
	plain := baseReq()
	mosaic := baseReq()
	mosaic.Mosaic = true

	kp, km := Key(plain), Key(mosaic)
	if kp == km {
		t.Fatalf("mosaic and plain requests share a key: %s", kp)
	}
	if !strings.HasPrefix(kp, "t:") {
		t.Fatalf("plain key prefix: %s", kp)
	}
	if !strings.HasPrefix(km, "m:") {
		t.Fatalf("mosaic key prefix: %s", km)
	}
}

func TestPointKey_DeterministicAndCoordinateSensitive(t *testing.T) {
	ref := "https://cogs.example.com/bathy/gebco_mosaic.json"

	k1 := PointKey(ref, -74.5, 40.2)
	if k1 != PointKey(ref, -74.5, 40.2) {
		t.Fatalf("determinism failed")
	}
	if !strings.HasPrefix(k1, "q:") {
		t.Fatalf("point key prefix: %s", k1)
	}
	if k1 == PointKey(ref, -74.5, 40.3) {
		t.Fatalf("latitude change did not change the key")
	}
	if k1 == PointKey("https://cogs.example.com/bathy/other_mosaic.json", -74.5, 40.2) {
		t.Fatalf("manifest change did not change the key")
	}
}

func TestUnicodeSafety_NoPanicAndASCIIOnly(t *testing.T) {
	r := baseReq()
	r.ColormapID = "Göteborg 雪 palette"
	k := Key(r)
	for _, ch := range k {
		if ch > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", ch, k)
		}
	}
}
