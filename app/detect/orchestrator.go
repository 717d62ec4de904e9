package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"planlens/app/annotations"
	"planlens/app/cache"
	"planlens/app/geometry"
)

// ErrStale marks a detection response that resolved after a newer request
// was issued for the same workspace. Callers discard the result; the
// ordering guarantee is last-issued-wins, not last-resolved-wins.
var ErrStale = errors.New("detection superseded by a newer request")

// RequestState is the per-workspace detection request lifecycle.
type RequestState int

const (
	StateIdle RequestState = iota
	StateRequesting
	StateSucceeded
	StateFailed
)

// String returns the state name for logging and the frontend.
func (s RequestState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Detector abstracts the detection service client for testing.
type Detector interface {
	DetectFull(ctx context.Context, image []byte, filename string) (annotations.Set, error)
	DetectRegion(ctx context.Context, image []byte, filename string, crop geometry.CropRect) (RegionResult, error)
}

// Result is a completed detection for one workspace: the raw set in natural
// coordinates and the scaled set derived from the workspace's own geometry.
// Both are produced together so the caller can replace its pair atomically.
type Result struct {
	Raw         annotations.Set
	Scaled      annotations.Set
	CropPreview string
	FromCache   bool
}

type workspaceState struct {
	generation uint64
	state      RequestState
	lastError  string
}

// Orchestrator issues detection requests per workspace and guarantees that
// at most one in-flight request per workspace is authoritative. Each new
// request bumps the workspace's generation; a resolution whose captured
// generation no longer matches is reported as ErrStale.
type Orchestrator struct {
	detector Detector
	cache    *cache.Cache // nil disables caching

	mu     sync.Mutex
	states map[string]*workspaceState
}

// NewOrchestrator creates an orchestrator over the given detector. cache
// may be nil to disable result caching.
func NewOrchestrator(detector Detector, c *cache.Cache) *Orchestrator {
	return &Orchestrator{
		detector: detector,
		cache:    c,
		states:   make(map[string]*workspaceState),
	}
}

// State reports the request state and last error message for a workspace.
func (o *Orchestrator) State(workspaceID string) (RequestState, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ws, ok := o.states[workspaceID]
	if !ok {
		return StateIdle, ""
	}
	return ws.state, ws.lastError
}

// Invalidate returns a workspace to Idle and orphans any in-flight request,
// used when a new image load or selection makes the previous result
// meaningless.
func (o *Orchestrator) Invalidate(workspaceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ws := o.ensure(workspaceID)
	ws.generation++
	ws.state = StateIdle
	ws.lastError = ""
}

// Forget drops all orchestrator state for a closed workspace.
func (o *Orchestrator) Forget(workspaceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.states, workspaceID)
}

// DetectFull runs whole-image detection for a workspace. It blocks until
// the service responds, so callers run it off the event path; the
// generation guard makes overlapping calls safe.
func (o *Orchestrator) DetectFull(ctx context.Context, workspaceID string, image []byte, imageHash, filename string, info geometry.ImageInfo) (*Result, error) {
	gen := o.begin(workspaceID)

	cacheKey := cache.Key(imageHash, "full")
	if set, ok := o.cacheGet(cacheKey); ok {
		if !o.commit(workspaceID, gen, "") {
			return nil, ErrStale
		}
		return &Result{Raw: set, Scaled: geometry.ScaleSet(set, info), FromCache: true}, nil
	}

	set, err := o.detector.DetectFull(ctx, image, filename)
	if err != nil {
		if !o.fail(workspaceID, gen, err) {
			return nil, ErrStale
		}
		return nil, err
	}
	if !o.commit(workspaceID, gen, "") {
		return nil, ErrStale
	}
	o.cachePut(cacheKey, set)
	return &Result{Raw: set, Scaled: geometry.ScaleSet(set, info)}, nil
}

// DetectRegion runs detection restricted to a displayed-coordinate
// selection, converting it to an integer natural-pixel crop first.
func (o *Orchestrator) DetectRegion(ctx context.Context, workspaceID string, image []byte, imageHash, filename string, info geometry.ImageInfo, sel geometry.Selection) (*Result, error) {
	crop, err := geometry.NaturalCropRect(sel, info)
	if err != nil {
		// Degenerate selections are rejected before any request is sent and
		// do not disturb the workspace's request state.
		return nil, err
	}

	gen := o.begin(workspaceID)

	cacheKey := cache.Key(imageHash, fmt.Sprintf("%d,%d,%d,%d", crop.X, crop.Y, crop.W, crop.H))
	if set, ok := o.cacheGet(cacheKey); ok {
		if !o.commit(workspaceID, gen, "") {
			return nil, ErrStale
		}
		return &Result{Raw: set, Scaled: geometry.ScaleSet(set, info), FromCache: true}, nil
	}

	res, err := o.detector.DetectRegion(ctx, image, filename, crop)
	if err != nil {
		if !o.fail(workspaceID, gen, err) {
			return nil, ErrStale
		}
		return nil, err
	}
	if !o.commit(workspaceID, gen, "") {
		return nil, ErrStale
	}
	o.cachePut(cacheKey, res.Set)
	return &Result{Raw: res.Set, Scaled: geometry.ScaleSet(res.Set, info), CropPreview: res.CroppedImage}, nil
}

// begin bumps the workspace generation and enters Requesting, returning the
// generation this request owns.
func (o *Orchestrator) begin(workspaceID string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	ws := o.ensure(workspaceID)
	ws.generation++
	ws.state = StateRequesting
	return ws.generation
}

// commit finalizes a request if it is still the latest one. It reports
// false when a newer request superseded this generation.
func (o *Orchestrator) commit(workspaceID string, gen uint64, errMsg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ws := o.ensure(workspaceID)
	if ws.generation != gen {
		return false
	}
	ws.state = StateSucceeded
	ws.lastError = errMsg
	return true
}

// fail records a failure if this request is still the latest one. A failed
// workspace keeps its previously displayed annotations.
func (o *Orchestrator) fail(workspaceID string, gen uint64, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ws := o.ensure(workspaceID)
	if ws.generation != gen {
		return false
	}
	ws.state = StateFailed
	ws.lastError = err.Error()
	return true
}

func (o *Orchestrator) ensure(workspaceID string) *workspaceState {
	ws, ok := o.states[workspaceID]
	if !ok {
		ws = &workspaceState{}
		o.states[workspaceID] = ws
	}
	return ws
}

func (o *Orchestrator) cacheGet(key string) (annotations.Set, bool) {
	if o.cache == nil {
		return annotations.Set{}, false
	}
	return o.cache.Get(key)
}

func (o *Orchestrator) cachePut(key string, set annotations.Set) {
	if o.cache != nil {
		o.cache.Put(key, set)
	}
}
