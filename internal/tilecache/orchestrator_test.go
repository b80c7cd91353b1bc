package tilecache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oceanviz/tilecache/internal/cache"
	"github.com/oceanviz/tilecache/internal/colormap"
	"github.com/oceanviz/tilecache/internal/core/model"
	"github.com/oceanviz/tilecache/internal/render"
	"github.com/oceanviz/tilecache/internal/source"
)

type stubStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
}

func newStubStore() *stubStore {
	return &stubStore{data: make(map[string][]byte)}
}

func (s *stubStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubStore) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = payload
	return nil
}

func (s *stubStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *stubStore) Stats() cache.Stats { return cache.Stats{} }

type stubValidator struct{ err error }

func (v stubValidator) Validate(context.Context, string) error { return v.err }

type stubRenderer struct {
	calls      atomic.Int64
	pointCalls atomic.Int64
	payload    []byte
	err        error
	block      chan struct{} // optional gate, closed by the test

	lastParams render.Params
}

func (r *stubRenderer) Render(ctx context.Context, p render.Params) ([]byte, error) {
	r.calls.Add(1)
	r.lastParams = p
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.payload, nil
}

func (r *stubRenderer) QueryPoint(context.Context, string, float64, float64) ([]byte, error) {
	r.pointCalls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.payload, nil
}

func testPalettes(t *testing.T) (*colormap.Registry, *colormap.Synthesizer) {
	t.Helper()
	reg := colormap.NewRegistry()
	tab, err := colormap.TableFromHex([]string{"#000000", "#ffffff"}, 32, 95, colormap.SpaceLinear)
	if err != nil {
		t.Fatalf("TableFromHex: %v", err)
	}
	if err := reg.Register("sst_high_contrast", tab); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg, colormap.NewSynthesizer()
}

func testReq() model.TileRequest {
	return model.TileRequest{
		SourceRef: "https://cogs.example.com/gulf/sst/2026_cog.tif",
		Z:         6, X: 17, Y: 25,
		ValueMin:   32,
		ValueMax:   86,
		ColormapID: "sst_high_contrast",
		Resampling: model.ResamplingBilinear,
	}
}

func newOrch(t *testing.T, store cache.Store, v Validator, r render.Renderer) *Orchestrator {
	t.Helper()
	reg, synth := testPalettes(t)
	return New(nil, store, v, r, reg, synth, time.Hour)
}

func TestServeTile_MissRendersOnce_ThenHits(t *testing.T) {
	store := newStubStore()
	rend := &stubRenderer{payload: []byte("png-bytes")}
	o := newOrch(t, store, stubValidator{}, rend)
	ctx := context.Background()

	res := o.ServeTile(ctx, testReq())
	if res.Status != StatusOK || res.Err != nil {
		t.Fatalf("first request: %+v", res)
	}
	if res.CacheStatus != model.CacheMiss {
		t.Fatalf("first request cache status=%s want MISS", res.CacheStatus)
	}
	if string(res.Payload) != "png-bytes" {
		t.Fatalf("payload=%q", res.Payload)
	}
	if n := rend.calls.Load(); n != 1 {
		t.Fatalf("render calls=%d want 1", n)
	}

	res = o.ServeTile(ctx, testReq())
	if res.Status != StatusOK || res.CacheStatus != model.CacheHit {
		t.Fatalf("second request: %+v", res)
	}
	if n := rend.calls.Load(); n != 1 {
		t.Fatalf("repeat request re-rendered: calls=%d", n)
	}
}

func TestServeTile_FailsOpenOnStoreErrors(t *testing.T) {
	store := newStubStore()
	store.getErr = errors.New("redis timeout")
	store.setErr = errors.New("redis timeout")
	rend := &stubRenderer{payload: []byte("png-bytes")}
	o := newOrch(t, store, stubValidator{}, rend)

	res := o.ServeTile(context.Background(), testReq())
	if res.Status != StatusOK || string(res.Payload) != "png-bytes" {
		t.Fatalf("broken store broke tile serving: %+v", res)
	}
	if res.CacheStatus != model.CacheMiss {
		t.Fatalf("cache status=%s want MISS", res.CacheStatus)
	}
}

func TestServeTile_InvalidRequestShortCircuits(t *testing.T) {
	rend := &stubRenderer{payload: []byte("x")}
	o := newOrch(t, newStubStore(), stubValidator{}, rend)

	req := testReq()
	req.ValueMin, req.ValueMax = 50, 50
	res := o.ServeTile(context.Background(), req)
	if res.Status != StatusBadRequest {
		t.Fatalf("status=%v want BadRequest", res.Status)
	}
	if !errors.Is(res.Err, model.ErrInvalidRequest) {
		t.Fatalf("err=%v", res.Err)
	}
	if rend.calls.Load() != 0 {
		t.Fatalf("invalid request reached the renderer")
	}
}

func TestServeTile_UnknownPaletteIsBadRequest(t *testing.T) {
	o := newOrch(t, newStubStore(), stubValidator{}, &stubRenderer{payload: []byte("x")})

	req := testReq()
	req.ColormapID = "no_such_palette"
	res := o.ServeTile(context.Background(), req)
	if res.Status != StatusBadRequest || !errors.Is(res.Err, model.ErrInvalidRequest) {
		t.Fatalf("res=%+v", res)
	}
}

func TestServeTile_SourceUnavailableIsNotFound(t *testing.T) {
	rend := &stubRenderer{payload: []byte("x")}
	v := stubValidator{err: source.ErrUnavailable}
	o := newOrch(t, newStubStore(), v, rend)

	res := o.ServeTile(context.Background(), testReq())
	if res.Status != StatusNotFound {
		t.Fatalf("status=%v want NotFound", res.Status)
	}
	if rend.calls.Load() != 0 {
		t.Fatalf("unavailable source reached the renderer")
	}
}

func TestServeTile_ProbeFaultDefersToRenderer(t *testing.T) {
	rend := &stubRenderer{payload: []byte("png-bytes")}
	v := stubValidator{err: errors.New("probe timeout")}
	o := newOrch(t, newStubStore(), v, rend)

	res := o.ServeTile(context.Background(), testReq())
	if res.Status != StatusOK || string(res.Payload) != "png-bytes" {
		t.Fatalf("transient probe fault must not fail the request: %+v", res)
	}
	if rend.calls.Load() != 1 {
		t.Fatalf("render calls=%d want 1", rend.calls.Load())
	}
}

func TestServeTile_RenderFailureIsInternal(t *testing.T) {
	rend := &stubRenderer{err: render.ErrRenderFailed}
	o := newOrch(t, newStubStore(), stubValidator{}, rend)

	res := o.ServeTile(context.Background(), testReq())
	if res.Status != StatusInternalError {
		t.Fatalf("status=%v want InternalError", res.Status)
	}
	if res.Payload != nil {
		t.Fatalf("failed render returned a payload")
	}
}

func TestServeTile_ConcurrentMissesShareOneRender(t *testing.T) {
	store := newStubStore()
	rend := &stubRenderer{payload: []byte("png-bytes"), block: make(chan struct{})}
	o := newOrch(t, store, stubValidator{}, rend)

	const n = 16
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.ServeTile(context.Background(), testReq())
		}()
	}

	// let every goroutine miss and join the flight before releasing
	time.Sleep(50 * time.Millisecond)
	close(rend.block)
	wg.Wait()

	for i, res := range results {
		if res.Status != StatusOK || string(res.Payload) != "png-bytes" {
			t.Fatalf("request %d failed: %+v", i, res)
		}
	}
	if calls := rend.calls.Load(); calls != 1 {
		t.Fatalf("render calls=%d want 1", calls)
	}
}

func TestServeTile_WaitersSurviveInitiatorDisconnect(t *testing.T) {
	store := newStubStore()
	rend := &stubRenderer{payload: []byte("png-bytes"), block: make(chan struct{})}
	o := newOrch(t, store, stubValidator{}, rend)

	initCtx, disconnect := context.WithCancel(context.Background())
	first := make(chan Result, 1)
	go func() { first <- o.ServeTile(initCtx, testReq()) }()

	// wait until the first request holds the flight
	deadline := time.Now().Add(2 * time.Second)
	for rend.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("render never started")
		}
		time.Sleep(time.Millisecond)
	}

	second := make(chan Result, 1)
	go func() { second <- o.ServeTile(context.Background(), testReq()) }()

	// let the second request join the flight, then drop the initiator
	time.Sleep(50 * time.Millisecond)
	disconnect()
	time.Sleep(10 * time.Millisecond)
	close(rend.block)

	if res := <-second; res.Status != StatusOK || string(res.Payload) != "png-bytes" {
		t.Fatalf("waiter failed after initiator disconnect: %+v", res)
	}
	if res := <-first; res.Status != StatusOK {
		t.Fatalf("initiator result: %+v", res)
	}
	if calls := rend.calls.Load(); calls != 1 {
		t.Fatalf("render calls=%d want 1", calls)
	}

	// the detached render still populated the cache
	if res := o.ServeTile(context.Background(), testReq()); res.CacheStatus != model.CacheHit {
		t.Fatalf("follow-up cache status=%s want HIT", res.CacheStatus)
	}
}

func TestServeTile_MosaicFlagReachesRenderer(t *testing.T) {
	rend := &stubRenderer{payload: []byte("png-bytes")}
	o := newOrch(t, newStubStore(), stubValidator{}, rend)

	req := testReq()
	req.SourceRef = "https://cogs.example.com/bathy/gebco_mosaic.json"
	req.Mosaic = true
	if res := o.ServeTile(context.Background(), req); res.Status != StatusOK {
		t.Fatalf("res=%+v", res)
	}
	if !rend.lastParams.Mosaic {
		t.Fatalf("mosaic flag lost on the way to the renderer")
	}
}

func TestServePoint_QueriesOnce_ThenHits(t *testing.T) {
	store := newStubStore()
	rend := &stubRenderer{payload: []byte(`{"values":[{"band":1,"value":-1234.5}]}`)}
	o := newOrch(t, store, stubValidator{}, rend)
	ctx := context.Background()
	ref := "https://cogs.example.com/bathy/gebco_mosaic.json"

	res := o.ServePoint(ctx, ref, -74.5, 40.2)
	if res.Status != StatusOK || res.CacheStatus != model.CacheMiss {
		t.Fatalf("first query: %+v", res)
	}
	if string(res.Payload) != `{"values":[{"band":1,"value":-1234.5}]}` {
		t.Fatalf("payload=%q", res.Payload)
	}

	res = o.ServePoint(ctx, ref, -74.5, 40.2)
	if res.Status != StatusOK || res.CacheStatus != model.CacheHit {
		t.Fatalf("second query: %+v", res)
	}
	if n := rend.pointCalls.Load(); n != 1 {
		t.Fatalf("point calls=%d want 1", n)
	}

	// a different coordinate is a different entry
	if res := o.ServePoint(ctx, ref, -74.5, 40.3); res.CacheStatus != model.CacheMiss {
		t.Fatalf("distinct coordinate served from cache")
	}
}

func TestServePoint_RejectsOutOfBoundsCoordinates(t *testing.T) {
	rend := &stubRenderer{payload: []byte("{}")}
	o := newOrch(t, newStubStore(), stubValidator{}, rend)

	cases := []struct{ lon, lat float64 }{
		{-180.5, 0},
		{181, 0},
		{0, -90.5},
		{0, 91},
	}
	for _, tc := range cases {
		res := o.ServePoint(context.Background(), "https://x/m.json", tc.lon, tc.lat)
		if res.Status != StatusBadRequest || !errors.Is(res.Err, model.ErrInvalidRequest) {
			t.Fatalf("lon=%g lat=%g: %+v", tc.lon, tc.lat, res)
		}
	}
	if rend.pointCalls.Load() != 0 {
		t.Fatalf("out-of-bounds coordinate reached the renderer")
	}
}

func TestServePoint_UnavailableManifestIsNotFound(t *testing.T) {
	rend := &stubRenderer{payload: []byte("{}")}
	o := newOrch(t, newStubStore(), stubValidator{err: source.ErrUnavailable}, rend)

	res := o.ServePoint(context.Background(), "https://x/m.json", -74.5, 40.2)
	if res.Status != StatusNotFound {
		t.Fatalf("status=%v want NotFound", res.Status)
	}
	if rend.pointCalls.Load() != 0 {
		t.Fatalf("unavailable manifest reached the renderer")
	}
}

func TestColormap_UnknownNameIsInvalid(t *testing.T) {
	o := newOrch(t, newStubStore(), stubValidator{}, &stubRenderer{})

	if _, _, err := o.Colormap("missing", 256); !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("err=%v want ErrInvalidRequest", err)
	}
	cm, tab, err := o.Colormap("sst_high_contrast", 256)
	if err != nil {
		t.Fatalf("Colormap: %v", err)
	}
	if cm.Len() != 256 || tab == nil {
		t.Fatalf("len=%d tab=%v", cm.Len(), tab)
	}
}
