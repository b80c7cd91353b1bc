package colormap

import (
	"bytes"
	"math"
	"testing"
)

func mustTable(t *testing.T, stops []ColorStop, lo, hi float64, space Space) *StopTable {
	t.Helper()
	tab, err := NewStopTable(stops, lo, hi, space)
	if err != nil {
		t.Fatalf("NewStopTable: %v", err)
	}
	return tab
}

func chlorophyllStops() []ColorStop {
	return []ColorStop{
		{Value: 0.01, Color: RGBA{0xE0, 0x40, 0xE0, 0xFF}},
		{Value: 1.0, Color: RGBA{0x00, 0x89, 0x7B, 0xFF}},
		{Value: 8.0, Color: RGBA{0xF5, 0x7C, 0x00, 0xFF}},
	}
}

func TestPosition_Log10DecadesGetEqualShares(t *testing.T) {
	tab := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)

	// domain spans log10(8/0.01) = 2.90309 decades
	cases := []struct {
		v, want float64
	}{
		{0.01, 0},
		{0.1, 1.0 / 2.9030899869919438},
		{1.0, 2.0 / 2.9030899869919438},
		{8.0, 1},
	}
	for _, c := range cases {
		got := tab.Position(c.v)
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("Position(%g)=%.6f want %.6f", c.v, got, c.want)
		}
	}
}

func TestPosition_ClampsAndStaysMonotonic(t *testing.T) {
	tab := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)

	if got := tab.Position(0.001); got != 0 {
		t.Fatalf("below-domain value not clamped to 0: %g", got)
	}
	if got := tab.Position(100); got != 1 {
		t.Fatalf("above-domain value not clamped to 1: %g", got)
	}

	prev := -1.0
	for v := 0.01; v <= 8.0; v *= 1.3 {
		p := tab.Position(v)
		if p < prev {
			t.Fatalf("Position not monotonic at v=%g: %g < %g", v, p, prev)
		}
		prev = p
	}
}

func TestPosition_LinearIsProportional(t *testing.T) {
	tab := mustTable(t, []ColorStop{
		{Value: 32, Color: RGBA{0, 0, 255, 255}},
		{Value: 95, Color: RGBA{255, 0, 0, 255}},
	}, 32, 95, SpaceLinear)

	if got, want := tab.Position(63.5), 0.5; math.Abs(got-want) > 1e-9 {
		t.Fatalf("Position(63.5)=%g want %g", got, want)
	}
}

func TestSynthesize_StopsLandAtTheirIndices(t *testing.T) {
	tab := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)
	cm, err := Synthesize(tab, 256)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if cm.Len() != 256 {
		t.Fatalf("len=%d want 256", cm.Len())
	}

	stops := chlorophyllStops()
	if cm.At(0) != stops[0].Color {
		t.Fatalf("index 0 = %+v want first stop color", cm.At(0))
	}
	if cm.At(255) != stops[2].Color {
		t.Fatalf("index 255 = %+v want last stop color", cm.At(255))
	}
	mid := int(math.Round(255 * tab.Position(1.0)))
	if cm.At(mid) != stops[1].Color {
		t.Fatalf("index %d = %+v want middle stop color", mid, cm.At(mid))
	}
}

func TestSynthesize_ByteDeterminism(t *testing.T) {
	tab := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)
	a, err := Synthesize(tab, 1024)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	b, err := Synthesize(tab, 1024)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("identical inputs produced different bytes")
	}
}

func TestSynthesize_HoldsEndColorsOutsideStops(t *testing.T) {
	// stops cover only the middle of the domain
	tab := mustTable(t, []ColorStop{
		{Value: 40, Color: RGBA{10, 10, 10, 255}},
		{Value: 60, Color: RGBA{200, 200, 200, 255}},
	}, 0, 100, SpaceLinear)

	cm, err := Synthesize(tab, 101)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for i := 0; i <= 40; i++ {
		if cm.At(i) != (RGBA{10, 10, 10, 255}) {
			t.Fatalf("index %d below first stop not held: %+v", i, cm.At(i))
		}
	}
	for i := 60; i <= 100; i++ {
		if cm.At(i) != (RGBA{200, 200, 200, 255}) {
			t.Fatalf("index %d above last stop not held: %+v", i, cm.At(i))
		}
	}
}

func TestNewStopTable_RejectsInvalidInput(t *testing.T) {
	ok := chlorophyllStops()
	cases := []struct {
		name  string
		stops []ColorStop
		lo    float64
		hi    float64
		space Space
	}{
		{"single stop", ok[:1], 0.01, 8, SpaceLog10},
		{"domain min above max", ok, 8, 0.01, SpaceLog10},
		{"log10 with zero min", ok, 0, 8, SpaceLog10},
		{"stop outside domain", ok, 0.5, 8, SpaceLinear},
		{"non-increasing stops", []ColorStop{
			{Value: 2, Color: RGBA{}}, {Value: 2, Color: RGBA{}},
		}, 0, 8, SpaceLinear},
		{"nan stop", []ColorStop{
			{Value: math.NaN(), Color: RGBA{}}, {Value: 2, Color: RGBA{}},
		}, 0, 8, SpaceLinear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewStopTable(tc.stops, tc.lo, tc.hi, tc.space); err == nil {
				t.Fatalf("expected construction error")
			}
		})
	}
}

func TestStopTableID_TracksContent(t *testing.T) {
	a := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)
	b := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)
	if a.ID() != b.ID() {
		t.Fatalf("identical tables have different IDs")
	}
	c := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLinear)
	if a.ID() == c.ID() {
		t.Fatalf("different spacing must change the ID")
	}
}

func TestSynthesizer_MemoReturnsIdenticalTable(t *testing.T) {
	tab := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)
	s := NewSynthesizer()

	a, err := s.Synthesize(tab, 512)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	b, err := s.Synthesize(tab, 512)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("memoized result differs from first synthesis")
	}
}

func TestParseHex(t *testing.T) {
	c, err := ParseHex("#F57C00")
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if c != (RGBA{0xF5, 0x7C, 0x00, 0xFF}) {
		t.Fatalf("got %+v", c)
	}
	c, err = ParseHex("00897b80")
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if c.A != 0x80 {
		t.Fatalf("alpha not parsed: %+v", c)
	}
	if _, err := ParseHex("#fff"); err == nil {
		t.Fatalf("short hex must be rejected")
	}
}

func TestTableFromHex_LogRampSpacesByDecade(t *testing.T) {
	tab, err := TableFromHex([]string{"#000000", "#808080", "#ffffff"}, 0.01, 100, SpaceLog10)
	if err != nil {
		t.Fatalf("TableFromHex: %v", err)
	}
	stops := tab.Stops()
	// midpoint of [-2,2] in log space is 10^0 = 1
	if math.Abs(stops[1].Value-1.0) > 1e-9 {
		t.Fatalf("middle stop at %g want 1.0", stops[1].Value)
	}
	if stops[0].Value != 0.01 || stops[2].Value != 100 {
		t.Fatalf("end stops not pinned to domain: %+v", stops)
	}
}

func TestRegistry_DuplicateAndAlias(t *testing.T) {
	r := NewRegistry()
	tab := mustTable(t, chlorophyllStops(), 0.01, 8.0, SpaceLog10)

	if err := r.Register("Chlorophyll_Log10", tab); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("chlorophyll_log10", tab); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	if err := r.Alias("chl_log", "chlorophyll_log10"); err != nil {
		t.Fatalf("Alias: %v", err)
	}
	if got, ok := r.Get(" CHL_LOG "); !ok || got.ID() != tab.ID() {
		t.Fatalf("alias lookup failed")
	}
	if err := r.Alias("x", "missing"); err == nil {
		t.Fatalf("alias to missing palette must fail")
	}
}

func TestBuiltinRegistry_LoadsPalettesAndAliases(t *testing.T) {
	r, err := BuiltinRegistry()
	if err != nil {
		t.Fatalf("BuiltinRegistry: %v", err)
	}
	for _, name := range []string{"sst_high_contrast", "chlorophyll_log10", "flow", "mld_default", "bathymetry"} {
		if _, ok := r.Get(name); !ok {
			t.Fatalf("builtin palette %q missing", name)
		}
	}
	flow, _ := r.Get("flow")
	sal, _ := r.Get("salinity")
	if flow.ID() != sal.ID() {
		t.Fatalf("flow alias does not resolve to salinity")
	}
}
