package detect

import (
	"context"
	"errors"
	"sync"
	"testing"

	"planlens/app/annotations"
	"planlens/app/cache"
	"planlens/app/geometry"
)

// fakeDetector serves scripted results and lets a test hold a request open
// until it decides to release it, so response ordering can be controlled.
type fakeDetector struct {
	mu      sync.Mutex
	calls   int
	results []annotations.Set
	errs    []error
	gates   []chan struct{} // optional per-call gate; nil entries resolve immediately
	started []chan struct{} // optional per-call start signal, closed on entry
}

func (f *fakeDetector) DetectFull(ctx context.Context, image []byte, filename string) (annotations.Set, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	var gate chan struct{}
	if idx < len(f.gates) {
		gate = f.gates[idx]
	}
	if idx < len(f.started) && f.started[idx] != nil {
		close(f.started[idx])
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if idx < len(f.errs) && f.errs[idx] != nil {
		return annotations.Set{}, f.errs[idx]
	}
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return annotations.Set{}, nil
}

func (f *fakeDetector) DetectRegion(ctx context.Context, image []byte, filename string, crop geometry.CropRect) (RegionResult, error) {
	set, err := f.DetectFull(ctx, image, filename)
	return RegionResult{Set: set, CroppedImage: "data:image/jpeg;base64,x"}, err
}

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func halfScaleInfo(t *testing.T) geometry.ImageInfo {
	t.Helper()
	info, err := geometry.ComputeImageInfo(1000, 800, 500, 400)
	if err != nil {
		t.Fatalf("ComputeImageInfo: %v", err)
	}
	return info
}

func TestDetectFullScalesResults(t *testing.T) {
	det := &fakeDetector{results: []annotations.Set{{
		Circles: []annotations.Circle{{ID: 1, X: 200, Y: 100, R: 20, PageNumber: "A7.1", CircleText: "A7.1"}},
	}}}
	o := NewOrchestrator(det, nil)

	res, err := o.DetectFull(context.Background(), "main", []byte("img"), "h1", "sheet.png", halfScaleInfo(t))
	if err != nil {
		t.Fatalf("DetectFull: %v", err)
	}
	raw := res.Raw.Circles[0]
	scaled := res.Scaled.Circles[0]
	if raw.X != 200 || raw.Y != 100 || raw.R != 20 {
		t.Errorf("raw = %+v", raw)
	}
	if scaled.X != 100 || scaled.Y != 50 || scaled.R != 10 {
		t.Errorf("scaled = %+v", scaled)
	}
	if state, _ := o.State("main"); state != StateSucceeded {
		t.Errorf("state = %v", state)
	}
}

func TestGenerationGuardLastIssuedWins(t *testing.T) {
	// Issue A, then B before A resolves. B resolves first and commits; A
	// resolves afterwards and must be discarded as stale.
	gateA := make(chan struct{})
	startedA := make(chan struct{})
	det := &fakeDetector{
		results: []annotations.Set{
			{Circles: []annotations.Circle{{ID: 1, CircleText: "A"}}},
			{Circles: []annotations.Circle{{ID: 2, CircleText: "B"}}},
		},
		gates:   []chan struct{}{gateA, nil},
		started: []chan struct{}{startedA, nil},
	}
	o := NewOrchestrator(det, nil)
	info := halfScaleInfo(t)

	type outcome struct {
		res *Result
		err error
	}
	aDone := make(chan outcome, 1)
	go func() {
		res, err := o.DetectFull(context.Background(), "main", []byte("img"), "h1", "a.png", info)
		aDone <- outcome{res, err}
	}()
	// A has claimed its generation once the detector call has started.
	<-startedA

	// B is issued second and resolves immediately.
	resB, err := o.DetectFull(context.Background(), "main", []byte("img"), "h1", "b.png", info)
	if err != nil {
		t.Fatalf("B failed: %v", err)
	}
	if resB.Raw.Circles[0].CircleText != "B" {
		t.Errorf("B result = %+v", resB.Raw.Circles)
	}

	// Now let A resolve; its generation is stale.
	close(gateA)
	a := <-aDone
	if !errors.Is(a.err, ErrStale) {
		t.Fatalf("A should be stale, got res=%+v err=%v", a.res, a.err)
	}
	if state, _ := o.State("main"); state != StateSucceeded {
		t.Errorf("state after stale A = %v", state)
	}
}

func TestFailureKeepsStateButReportsError(t *testing.T) {
	det := &fakeDetector{errs: []error{&DetectionError{Message: "boom"}}}
	o := NewOrchestrator(det, nil)

	_, err := o.DetectFull(context.Background(), "main", []byte("img"), "h1", "sheet.png", halfScaleInfo(t))
	var derr *DetectionError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DetectionError, got %v", err)
	}
	state, msg := o.State("main")
	if state != StateFailed || msg == "" {
		t.Errorf("state = %v, msg = %q", state, msg)
	}
}

func TestCacheAvoidsSecondServiceCall(t *testing.T) {
	det := &fakeDetector{results: []annotations.Set{{
		Circles: []annotations.Circle{{ID: 1, CircleText: "3"}},
	}}}
	o := NewOrchestrator(det, cache.NewCache(1<<20))
	info := halfScaleInfo(t)

	first, err := o.DetectFull(context.Background(), "detail:A5.1", []byte("img"), "hash-a51", "a5.1.png", info)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.FromCache {
		t.Error("first result should not come from cache")
	}

	second, err := o.DetectFull(context.Background(), "detail:A5.1", []byte("img"), "hash-a51", "a5.1.png", info)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.FromCache {
		t.Error("second result should come from cache")
	}
	if det.callCount() != 1 {
		t.Errorf("service called %d times, want 1", det.callCount())
	}
}

func TestDetectRegionRejectsDegenerateSelection(t *testing.T) {
	det := &fakeDetector{}
	o := NewOrchestrator(det, nil)

	_, err := o.DetectRegion(context.Background(), "main", []byte("img"), "h1", "s.png",
		halfScaleInfo(t), geometry.Selection{X1: 10, Y1: 10, X2: 10, Y2: 50})
	var serr *geometry.SelectionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SelectionError, got %v", err)
	}
	// Rejected before any request: state untouched, service never called.
	if state, _ := o.State("main"); state != StateIdle {
		t.Errorf("state = %v, want idle", state)
	}
	if det.callCount() != 0 {
		t.Errorf("service called %d times", det.callCount())
	}
}

func TestInvalidateOrphansInFlightRequest(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	det := &fakeDetector{
		results: []annotations.Set{{Circles: []annotations.Circle{{ID: 1}}}},
		gates:   []chan struct{}{gate},
		started: []chan struct{}{started},
	}
	o := NewOrchestrator(det, nil)
	info := halfScaleInfo(t)

	done := make(chan error, 1)
	go func() {
		_, err := o.DetectFull(context.Background(), "main", []byte("img"), "h1", "s.png", info)
		done <- err
	}()
	<-started

	// New image load invalidates while the request is still in flight.
	o.Invalidate("main")
	close(gate)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale after invalidate, got %v", err)
	}
	if state, _ := o.State("main"); state != StateIdle {
		t.Errorf("state = %v, want idle", state)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	det := &fakeDetector{errs: []error{&DetectionError{Message: "boom"}, nil},
		results: []annotations.Set{{}, {Circles: []annotations.Circle{{ID: 1}}}}}
	o := NewOrchestrator(det, nil)
	info := halfScaleInfo(t)

	_, _ = o.DetectFull(context.Background(), "main", []byte("img"), "h1", "s.png", info)
	if _, err := o.DetectFull(context.Background(), "detail:A5.1", []byte("img"), "h2", "d.png", info); err != nil {
		t.Fatalf("detail detect: %v", err)
	}

	mainState, _ := o.State("main")
	detailState, _ := o.State("detail:A5.1")
	if mainState != StateFailed || detailState != StateSucceeded {
		t.Errorf("main = %v, detail = %v", mainState, detailState)
	}
}
