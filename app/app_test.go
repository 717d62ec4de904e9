package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"planlens/app/annotations"
	"planlens/app/cache"
	"planlens/app/detect"
	"planlens/app/geometry"
	"planlens/app/session"
	"planlens/app/sheets"
)

// fakeDetector returns canned detection sets keyed by uploaded filename.
type fakeDetector struct {
	mu      sync.Mutex
	calls   int
	results map[string]annotations.Set
}

func (d *fakeDetector) DetectFull(ctx context.Context, image []byte, filename string) (annotations.Set, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.results[filename], nil
}

func (d *fakeDetector) DetectRegion(ctx context.Context, image []byte, filename string, crop geometry.CropRect) (detect.RegionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return detect.RegionResult{Set: d.results[filename]}, nil
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func writePNG(t *testing.T, path string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return path
}

// newTestApp wires an App over a fake detector and a temp sheets dir.
func newTestApp(t *testing.T, det detect.Detector, sheetsDir string) *App {
	t.Helper()
	a := &App{
		workspaces:        make(map[string]*Workspace),
		activeWorkspaceID: MainWorkspaceID,
	}
	a.workspaces[MainWorkspaceID] = &Workspace{ID: MainWorkspaceID, LoadState: LoadIdle}
	a.detectionCache = cache.NewCache(1 << 20)
	a.orchestrator = detect.NewOrchestrator(det, a.detectionCache)
	a.resolver = sheets.NewResolver(sheetsDir, "{label}.png")
	a.sessions = session.NewService("test-key", 0, nil, nil)
	return a
}

func TestEndToEndDrillDown(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 1000, 800)
	writePNG(t, filepath.Join(dir, "A7.1.png"), 400, 300)

	det := &fakeDetector{results: map[string]annotations.Set{
		"plan.png": {
			Circles: []annotations.Circle{
				{ID: 1, X: 200, Y: 100, R: 20, PageNumber: "A7.1", CircleText: "A7.1"},
			},
		},
		"A7.1.png": {
			Circles: []annotations.Circle{
				{ID: 1, X: 50, Y: 60, R: 8, CircleText: "a7. 1"},
				{ID: 2, X: 90, Y: 90, R: 8, CircleText: "B1"},
			},
		},
	}}
	a := newTestApp(t, det, dir)

	// Load the main sheet at half its natural size
	view, err := a.LoadSheet(mainPath, 500, 400)
	if err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}
	if view.ImageInfo.ScaleX != 0.5 || view.ImageInfo.ScaleY != 0.5 {
		t.Fatalf("scale = %v/%v, want 0.5/0.5", view.ImageInfo.ScaleX, view.ImageInfo.ScaleY)
	}

	view, err = a.Detect(MainWorkspaceID)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(view.Circles) != 1 {
		t.Fatalf("circles = %d, want 1", len(view.Circles))
	}
	c := view.Circles[0]
	if c.X != 100 || c.Y != 50 || c.R != 10 {
		t.Fatalf("scaled circle = (%v,%v,%v), want (100,50,10)", c.X, c.Y, c.R)
	}

	// Click the scaled circle
	hit, err := a.SelectShapeAt(MainWorkspaceID, 100, 50)
	if err != nil {
		t.Fatalf("SelectShapeAt: %v", err)
	}
	if hit == nil || hit.Kind != annotations.KindCircle {
		t.Fatalf("hit = %+v, want circle", hit)
	}

	action, err := a.ResolveShape(MainWorkspaceID)
	if err != nil {
		t.Fatalf("ResolveShape: %v", err)
	}
	if action.Type != ActionNavigate || action.PageNumber != "A7.1" {
		t.Fatalf("action = %+v, want navigate to A7.1", action)
	}

	// Follow the callout into the detail sheet
	detail, err := a.OpenDetailSheet(action.PageNumber, action.CircleText)
	if err != nil {
		t.Fatalf("OpenDetailSheet: %v", err)
	}
	if !detail.Active || !detail.IsDetail {
		t.Fatalf("detail view = %+v, want active detail workspace", detail)
	}

	// The target callout was selected without any user click, matching
	// case/whitespace-insensitively.
	if detail.SelectedShape == nil || detail.SelectedShape.Kind != annotations.KindCircle {
		t.Fatal("auto-highlight selected nothing")
	}
	if detail.SelectedShape.Circle.ID != 1 {
		t.Errorf("auto-highlight selected circle %d, want 1", detail.SelectedShape.Circle.ID)
	}
	if det.callCount() != 2 {
		t.Errorf("detector calls = %d, want 2", det.callCount())
	}
}

func TestReopenDetailDoesNotRedetect(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 100, 100)
	writePNG(t, filepath.Join(dir, "A5.1.png"), 100, 100)

	det := &fakeDetector{results: map[string]annotations.Set{
		"A5.1.png": {Circles: []annotations.Circle{{ID: 1, X: 10, Y: 10, R: 5, CircleText: "D4"}}},
	}}
	a := newTestApp(t, det, dir)
	if _, err := a.LoadSheet(mainPath, 0, 0); err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}

	if _, err := a.OpenDetailSheet("A5.1", "D4"); err != nil {
		t.Fatalf("OpenDetailSheet: %v", err)
	}
	if det.callCount() != 1 {
		t.Fatalf("detector calls = %d after first open, want 1", det.callCount())
	}

	if err := a.SwitchWorkspace(MainWorkspaceID); err != nil {
		t.Fatalf("SwitchWorkspace: %v", err)
	}

	// Second open with the same target reuses the workspace and its results
	detail, err := a.OpenDetailSheet("A5.1", "D4")
	if err != nil {
		t.Fatalf("OpenDetailSheet again: %v", err)
	}
	if det.callCount() != 1 {
		t.Errorf("detector calls = %d after re-open, want still 1", det.callCount())
	}
	if len(detail.Circles) != 1 {
		t.Errorf("re-opened workspace lost its annotations")
	}

	// A changed target re-arms the highlight but existing results still
	// avoid another service call.
	detail, err = a.OpenDetailSheet("A5.1", "nonexistent")
	if err != nil {
		t.Fatalf("OpenDetailSheet with new target: %v", err)
	}
	if det.callCount() != 1 {
		t.Errorf("detector calls = %d after target change, want still 1", det.callCount())
	}
	if detail.SelectedShape != nil && detail.SelectedShape.Kind == annotations.KindCircle &&
		detail.SelectedShape.Circle.CircleText == "nonexistent" {
		t.Error("no-match target selected a shape")
	}
}

func TestSwitchWorkspaceUnknownID(t *testing.T) {
	a := newTestApp(t, &fakeDetector{}, t.TempDir())
	if err := a.SwitchWorkspace("detail:nope"); err == nil {
		t.Error("expected error for unknown workspace id")
	}
	if a.GetActiveWorkspace().ID != MainWorkspaceID {
		t.Error("failed switch changed the active workspace")
	}
}

func TestCloseWorkspace(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 100, 100)
	writePNG(t, filepath.Join(dir, "A1.1.png"), 100, 100)

	a := newTestApp(t, &fakeDetector{}, dir)
	if _, err := a.LoadSheet(mainPath, 0, 0); err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}
	if _, err := a.OpenDetailSheet("A1.1", ""); err != nil {
		t.Fatalf("OpenDetailSheet: %v", err)
	}

	if err := a.CloseWorkspace(MainWorkspaceID); err == nil {
		t.Error("closing the main workspace must fail")
	}

	id := detailWorkspaceID("A1.1")
	if err := a.CloseWorkspace(id); err != nil {
		t.Fatalf("CloseWorkspace: %v", err)
	}
	if a.GetActiveWorkspace().ID != MainWorkspaceID {
		t.Error("closing the active detail did not return to main")
	}
	if err := a.CloseWorkspace(id); err == nil {
		t.Error("closing a closed workspace must fail")
	}
}

func TestClearSelectionIdempotent(t *testing.T) {
	a := newTestApp(t, &fakeDetector{}, t.TempDir())
	if err := a.ClearSelection(MainWorkspaceID); err != nil {
		t.Fatalf("ClearSelection on empty selection: %v", err)
	}
	if err := a.ClearSelection(MainWorkspaceID); err != nil {
		t.Fatalf("second ClearSelection: %v", err)
	}
}

func TestResolveShapeUnavailableWithoutPageNumber(t *testing.T) {
	a := newTestApp(t, &fakeDetector{}, t.TempDir())
	shape := annotations.CircleShape(annotations.Circle{ID: 1, X: 5, Y: 5, R: 2, CircleText: "3"})
	if err := a.SelectShape(MainWorkspaceID, shape); err != nil {
		t.Fatalf("SelectShape: %v", err)
	}

	action, err := a.ResolveShape(MainWorkspaceID)
	if err != nil {
		t.Fatalf("ResolveShape: %v", err)
	}
	if action.Type != ActionUnavailable {
		t.Errorf("action type = %q, want unavailable", action.Type)
	}
	if action.Message == "" {
		t.Error("unavailable action must carry a user-facing message")
	}
}

func TestSetDisplayedSizeRescales(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 200, 200)

	det := &fakeDetector{results: map[string]annotations.Set{
		"plan.png": {Circles: []annotations.Circle{{ID: 1, X: 100, Y: 100, R: 20}}},
	}}
	a := newTestApp(t, det, dir)
	if _, err := a.LoadSheet(mainPath, 200, 200); err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}
	if _, err := a.Detect(MainWorkspaceID); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	view, err := a.SetDisplayedSize(MainWorkspaceID, 100, 100)
	if err != nil {
		t.Fatalf("SetDisplayedSize: %v", err)
	}
	c := view.Circles[0]
	if c.X != 50 || c.Y != 50 || c.R != 10 {
		t.Errorf("rescaled circle = (%v,%v,%v), want (50,50,10)", c.X, c.Y, c.R)
	}
}

func TestDetectWithoutImage(t *testing.T) {
	a := newTestApp(t, &fakeDetector{}, t.TempDir())
	if _, err := a.Detect(MainWorkspaceID); err == nil {
		t.Error("expected error detecting with no image loaded")
	}
}

func TestOpenDetailSheetMissingImage(t *testing.T) {
	a := newTestApp(t, &fakeDetector{}, t.TempDir())
	if _, err := a.OpenDetailSheet("Z9.9", "1"); err == nil {
		t.Error("expected error for unresolvable page label")
	}
	// The failed workspace records its load error
	view, err := a.GetWorkspace(detailWorkspaceID("Z9.9"))
	if err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}
	if view.LoadState != LoadFailed || view.LoadError == "" {
		t.Errorf("load state = %q err %q, want failed with message", view.LoadState, view.LoadError)
	}
}

// gatedDetector blocks DetectFull until released so tests can interleave
// other operations with an in-flight request.
type gatedDetector struct {
	fakeDetector
	started chan struct{}
	release chan struct{}
}

func (d *gatedDetector) DetectFull(ctx context.Context, image []byte, filename string) (annotations.Set, error) {
	close(d.started)
	<-d.release
	return d.fakeDetector.DetectFull(ctx, image, filename)
}

func TestDetectRescalesAfterMidFlightResize(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 200, 200)

	det := &gatedDetector{
		fakeDetector: fakeDetector{results: map[string]annotations.Set{
			"plan.png": {Circles: []annotations.Circle{{ID: 1, X: 100, Y: 100, R: 20}}},
		}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	a := newTestApp(t, det, dir)
	if _, err := a.LoadSheet(mainPath, 200, 200); err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}

	done := make(chan struct{})
	var view *WorkspaceView
	var detectErr error
	go func() {
		view, detectErr = a.Detect(MainWorkspaceID)
		close(done)
	}()

	// Shrink the displayed size while the request is in flight
	<-det.started
	if _, err := a.SetDisplayedSize(MainWorkspaceID, 100, 100); err != nil {
		t.Fatalf("SetDisplayedSize: %v", err)
	}
	close(det.release)
	<-done

	if detectErr != nil {
		t.Fatalf("Detect: %v", detectErr)
	}
	if view.ImageInfo.ScaleX != 0.5 || view.ImageInfo.ScaleY != 0.5 {
		t.Fatalf("scale = %v/%v, want 0.5/0.5", view.ImageInfo.ScaleX, view.ImageInfo.ScaleY)
	}
	// The committed overlay must be derived from the post-resize geometry
	c := view.Circles[0]
	if c.X != 50 || c.Y != 50 || c.R != 10 {
		t.Errorf("scaled circle = (%v,%v,%v), want (50,50,10)", c.X, c.Y, c.R)
	}
}

func TestReopenDetailRetriesFailedLoad(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 100, 100)

	a := newTestApp(t, &fakeDetector{}, dir)
	if _, err := a.LoadSheet(mainPath, 0, 0); err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}

	// First open fails: the sheet image does not exist yet
	if _, err := a.OpenDetailSheet("A3.2", ""); err == nil {
		t.Fatal("expected error for missing sheet image")
	}

	// The user drops the missing file into the sheets directory and tries
	// the callout again; the existing workspace must retry the load.
	writePNG(t, filepath.Join(dir, "A3.2.png"), 100, 100)
	detail, err := a.OpenDetailSheet("A3.2", "")
	if err != nil {
		t.Fatalf("OpenDetailSheet after fixing the sheets dir: %v", err)
	}
	if detail.LoadState != LoadLoaded {
		t.Errorf("load state = %q, want loaded", detail.LoadState)
	}
	if detail.ImageInfo == nil {
		t.Error("re-opened workspace has no image info")
	}
}

func TestListWorkspacesStableOrder(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 100, 100)
	writePNG(t, filepath.Join(dir, "B2.2.png"), 100, 100)
	writePNG(t, filepath.Join(dir, "A1.1.png"), 100, 100)

	a := newTestApp(t, &fakeDetector{}, dir)
	if _, err := a.LoadSheet(mainPath, 0, 0); err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}
	if _, err := a.OpenDetailSheet("B2.2", ""); err != nil {
		t.Fatalf("OpenDetailSheet: %v", err)
	}
	if _, err := a.OpenDetailSheet("A1.1", ""); err != nil {
		t.Fatalf("OpenDetailSheet: %v", err)
	}

	want := []string{MainWorkspaceID, detailWorkspaceID("A1.1"), detailWorkspaceID("B2.2")}
	for i := 0; i < 3; i++ {
		list := a.ListWorkspaces()
		if len(list) != len(want) {
			t.Fatalf("list length = %d, want %d", len(list), len(want))
		}
		for j, summary := range list {
			if summary.ID != want[j] {
				t.Fatalf("list[%d] = %q, want %q (call %d)", j, summary.ID, want[j], i)
			}
		}
	}
}

func TestExportAnnotationsTo(t *testing.T) {
	dir := t.TempDir()
	mainPath := writePNG(t, filepath.Join(dir, "plan.png"), 100, 100)

	det := &fakeDetector{results: map[string]annotations.Set{
		"plan.png": {Circles: []annotations.Circle{{ID: 1, X: 10, Y: 10, R: 4, CircleText: "A1"}}},
	}}
	a := newTestApp(t, det, dir)
	if _, err := a.LoadSheet(mainPath, 0, 0); err != nil {
		t.Fatalf("LoadSheet: %v", err)
	}
	if _, err := a.Detect(MainWorkspaceID); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	out := filepath.Join(dir, "out.xlsx")
	if err := a.exportAnnotationsTo(MainWorkspaceID, out); err != nil {
		t.Fatalf("exportAnnotationsTo: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("workbook not written: %v", err)
	}
}
