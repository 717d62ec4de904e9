package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"planlens/app/annotations"
	"planlens/app/detect"
	"planlens/app/geometry"
	"planlens/app/sheets"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// emit sends an event to the frontend when the runtime is up.
func (a *App) emit(name string, data ...any) {
	if a.ctx != nil {
		runtime.EventsEmit(a.ctx, name, data...)
	}
}

// detailWorkspaceID derives the stable workspace id for a page label, so
// re-opening the same detail sheet lands on the existing workspace.
func detailWorkspaceID(pageLabel string) string {
	return "detail:" + annotations.NormalizeLabel(pageLabel)
}

// LoadSheet loads a drawing image into the main workspace, replacing
// whatever was there. displayedW/H describe the layout size the frontend
// renders the image at; zero values fall back to the natural size.
func (a *App) LoadSheet(path string, displayedW, displayedH float64) (*WorkspaceView, error) {
	ws, err := a.getWorkspace(MainWorkspaceID)
	if err != nil {
		return nil, err
	}
	if err := a.loadSheetInto(ws, path, displayedW, displayedH); err != nil {
		return nil, err
	}

	a.wsMu.Lock()
	a.activeWorkspaceID = MainWorkspaceID
	a.wsMu.Unlock()

	a.record("sheet_loaded", map[string]any{"path": path})
	a.emit("workspace:changed", MainWorkspaceID)
	return a.GetWorkspace(MainWorkspaceID)
}

// loadSheetInto decodes the image and resets the workspace's annotation
// state around it. Previous detections are meaningless for a new image.
func (a *App) loadSheetInto(ws *Workspace, path string, displayedW, displayedH float64) error {
	sheet, err := sheets.Load(path)
	if err != nil {
		a.wsMu.Lock()
		ws.LoadState = LoadFailed
		ws.LoadErr = err.Error()
		a.wsMu.Unlock()
		return err
	}

	natW := float64(sheet.NaturalWidth)
	natH := float64(sheet.NaturalHeight)
	if displayedW <= 0 || displayedH <= 0 {
		displayedW, displayedH = natW, natH
	}
	info, err := geometry.ComputeImageInfo(natW, natH, displayedW, displayedH)
	if err != nil {
		a.wsMu.Lock()
		ws.LoadState = LoadFailed
		ws.LoadErr = err.Error()
		a.wsMu.Unlock()
		return err
	}

	a.wsMu.Lock()
	ws.Sheet = sheet
	ws.Info = info
	ws.LoadState = LoadLoaded
	ws.LoadErr = ""
	ws.setAnnotations(annotations.Set{}, annotations.Set{})
	ws.CropPreview = ""
	ws.Selected = nil
	if !ws.IsDetail {
		ws.PageLabel = strings.TrimSuffix(sheet.FileName, filepath.Ext(sheet.FileName))
	}
	a.wsMu.Unlock()

	a.orchestrator.Invalidate(ws.ID)
	return nil
}

// SetDisplayedSize updates the layout size of a workspace's image and
// rederives the scaled annotation view. Called by the frontend on layout
// and zoom-fit changes.
func (a *App) SetDisplayedSize(workspaceID string, displayedW, displayedH float64) (*WorkspaceView, error) {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	a.wsMu.Lock()
	if ws.Sheet == nil {
		a.wsMu.Unlock()
		return nil, fmt.Errorf("workspace %q has no image loaded", workspaceID)
	}
	info, err := geometry.ComputeImageInfo(
		float64(ws.Sheet.NaturalWidth), float64(ws.Sheet.NaturalHeight),
		displayedW, displayedH)
	if err != nil {
		a.wsMu.Unlock()
		return nil, err
	}
	ws.Info = info
	ws.rescale()
	a.wsMu.Unlock()

	return a.GetWorkspace(workspaceID)
}

// SwitchWorkspace makes the given workspace the active view. It is a pure
// view change: in-flight detections in the previous workspace keep running
// against their own workspace.
func (a *App) SwitchWorkspace(id string) error {
	a.wsMu.Lock()
	defer a.wsMu.Unlock()
	if _, ok := a.workspaces[id]; !ok {
		return fmt.Errorf("no workspace %q", id)
	}
	a.activeWorkspaceID = id
	return nil
}

// Detect runs full-image detection for a workspace and installs the result.
// Overlapping calls are safe: only the most recently issued request updates
// the workspace.
func (a *App) Detect(workspaceID string) (*WorkspaceView, error) {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	a.wsMu.RLock()
	sheet := ws.Sheet
	info := ws.Info
	a.wsMu.RUnlock()
	if sheet == nil {
		return nil, fmt.Errorf("workspace %q has no image loaded", workspaceID)
	}

	res, err := a.orchestrator.DetectFull(context.Background(), workspaceID, sheet.Data(), sheet.Hash, sheet.FileName, info)
	if err != nil {
		if errors.Is(err, detect.ErrStale) {
			return nil, nil
		}
		a.Log("error", fmt.Sprintf("Detection failed for %s: %v", workspaceID, err))
		a.emit("detection:failed", workspaceID)
		return nil, err
	}

	// Rescale from the workspace's current geometry, not the ImageInfo the
	// request was issued with: the displayed size may have changed while
	// the request was in flight.
	a.wsMu.Lock()
	ws.Raw = res.Raw
	ws.rescale()
	ws.CropPreview = ""
	a.wsMu.Unlock()

	a.record("detect_full_image", map[string]any{
		"workspace": workspaceID,
		"circles":   len(res.Raw.Circles),
		"texts":     len(res.Raw.Texts),
		"cached":    res.FromCache,
	})
	a.emit("detection:done", workspaceID)
	return a.GetWorkspace(workspaceID)
}

// DetectRegion runs detection restricted to a displayed-coordinate
// selection rectangle.
func (a *App) DetectRegion(workspaceID string, sel geometry.Selection) (*WorkspaceView, error) {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	a.wsMu.RLock()
	sheet := ws.Sheet
	info := ws.Info
	a.wsMu.RUnlock()
	if sheet == nil {
		return nil, fmt.Errorf("workspace %q has no image loaded", workspaceID)
	}

	res, err := a.orchestrator.DetectRegion(context.Background(), workspaceID, sheet.Data(), sheet.Hash, sheet.FileName, info, sel)
	if err != nil {
		if errors.Is(err, detect.ErrStale) {
			return nil, nil
		}
		a.Log("error", fmt.Sprintf("Region detection failed for %s: %v", workspaceID, err))
		a.emit("detection:failed", workspaceID)
		return nil, err
	}

	preview := res.CropPreview
	if preview == "" {
		if crop, cropErr := geometry.NaturalCropRect(sel, info); cropErr == nil {
			preview, _ = sheet.CropPreview(crop.X, crop.Y, crop.W, crop.H)
		}
	}

	a.wsMu.Lock()
	ws.Raw = res.Raw
	ws.rescale()
	ws.CropPreview = preview
	a.wsMu.Unlock()

	a.record("detect_region", map[string]any{"workspace": workspaceID})
	a.emit("detection:done", workspaceID)
	return a.GetWorkspace(workspaceID)
}

// OpenDetailSheet opens (or returns to) the detail workspace for a callout's
// referenced page. An existing workspace is reused with its annotations
// intact; only the highlight target is updated. A new workspace resolves
// the page label to an image file, loads it, and runs the
// auto-detect-and-highlight protocol.
func (a *App) OpenDetailSheet(pageLabel, circleText string) (*WorkspaceView, error) {
	pageLabel = strings.TrimSpace(pageLabel)
	if pageLabel == "" {
		return nil, fmt.Errorf("empty page label")
	}
	id := detailWorkspaceID(pageLabel)

	a.wsMu.Lock()
	ws, exists := a.workspaces[id]
	if !exists {
		ws = &Workspace{
			ID:               id,
			PageLabel:        pageLabel,
			IsDetail:         true,
			LoadState:        LoadIdle,
			TargetCircleText: circleText,
		}
		a.workspaces[id] = ws
	} else {
		ws.TargetCircleText = circleText
	}
	a.activeWorkspaceID = id
	resolver := a.resolver
	// A reused workspace whose image never loaded gets another attempt,
	// so a fixed sheets directory works without closing the workspace.
	needLoad := ws.Sheet == nil
	a.wsMu.Unlock()

	if needLoad {
		path, err := resolver.Resolve(pageLabel)
		if err != nil {
			a.wsMu.Lock()
			ws.LoadState = LoadFailed
			ws.LoadErr = err.Error()
			a.wsMu.Unlock()
			return nil, err
		}
		if err := a.loadSheetInto(ws, path, 0, 0); err != nil {
			return nil, err
		}
	}

	a.record("open_detail_sheet", map[string]any{"page": pageLabel, "target": circleText})

	if err := a.autoHighlight(id); err != nil {
		// The sheet itself opened; highlight failure is reported on the
		// workspace's detection state, not as an open failure.
		a.Log("error", fmt.Sprintf("Auto-highlight failed for %s: %v", id, err))
	}
	return a.GetWorkspace(id)
}

// autoHighlight implements the detail-sheet protocol: once a detail
// workspace has both an image and a target callout text, run detection
// (unless results already exist) and select the circle whose text matches
// the target. The protocol runs once per (workspace, target) pair; no
// match is not an error.
func (a *App) autoHighlight(workspaceID string) error {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return err
	}

	a.wsMu.Lock()
	if ws.Sheet == nil || ws.LoadState != LoadLoaded || !ws.highlightArmed() {
		a.wsMu.Unlock()
		return nil
	}
	target := annotations.NormalizeLabel(ws.TargetCircleText)
	ws.highlightedFor = target
	needDetect := ws.Raw.Empty()
	a.wsMu.Unlock()

	if needDetect {
		if _, err := a.Detect(workspaceID); err != nil {
			// Re-arm so a retry can run the protocol again
			a.wsMu.Lock()
			ws.highlightedFor = ""
			a.wsMu.Unlock()
			return err
		}
	}

	a.wsMu.Lock()
	defer a.wsMu.Unlock()
	if c := ws.Scaled.FindCircleByText(ws.TargetCircleText); c != nil {
		shape := annotations.CircleShape(*c)
		ws.Selected = &shape
	}
	return nil
}

// CloseWorkspace closes a detail workspace and returns to the main sheet
// when it was active. The main workspace cannot be closed.
func (a *App) CloseWorkspace(id string) error {
	if id == MainWorkspaceID {
		return fmt.Errorf("the main workspace cannot be closed")
	}

	a.wsMu.Lock()
	if _, ok := a.workspaces[id]; !ok {
		a.wsMu.Unlock()
		return fmt.Errorf("no workspace %q", id)
	}
	delete(a.workspaces, id)
	if a.activeWorkspaceID == id {
		a.activeWorkspaceID = MainWorkspaceID
	}
	a.wsMu.Unlock()

	a.orchestrator.Forget(id)
	a.emit("workspace:closed", id)
	return nil
}
