package app

import (
	"planlens/app/annotations"
	"planlens/app/geometry"
	"planlens/app/sheets"
)

// MainWorkspaceID is the reserved id of the main sheet workspace. It always
// exists and is never closed.
const MainWorkspaceID = "main"

// LoadState is the image load lifecycle of a workspace.
type LoadState string

const (
	LoadIdle   LoadState = "idle"
	LoadLoaded LoadState = "loaded"
	LoadFailed LoadState = "failed"
)

// Workspace is one sheet's full annotation state: the loaded image, the
// detected shapes, and the current selection. Detail workspaces additionally
// carry the callout target that opened them so the auto-highlight protocol
// knows what to look for. A workspace never references another workspace.
type Workspace struct {
	ID        string
	PageLabel string
	IsDetail  bool

	Sheet     *sheets.Sheet
	Info      geometry.ImageInfo
	LoadState LoadState
	LoadErr   string

	// Raw holds detections in natural image coordinates as returned by
	// the service; Scaled is derived from Raw and Info and is replaced,
	// never mutated, whenever either changes.
	Raw         annotations.Set
	Scaled      annotations.Set
	CropPreview string

	Selected *annotations.Shape

	// TargetCircleText is the callout label this detail workspace was
	// opened for. highlightedFor records the normalized target the
	// auto-highlight protocol already ran against, so it runs once per
	// (workspace, target) pair and re-arms when the target changes.
	TargetCircleText string
	highlightedFor   string
}

// rescale rederives the scaled annotation view from the raw set and the
// current image geometry.
func (w *Workspace) rescale() {
	w.Scaled = geometry.ScaleSet(w.Raw, w.Info)
}

// setAnnotations replaces the raw and scaled sets together.
func (w *Workspace) setAnnotations(raw, scaled annotations.Set) {
	w.Raw = raw
	w.Scaled = scaled
}

// highlightArmed reports whether the auto-highlight protocol still has to
// run for the current target.
func (w *Workspace) highlightArmed() bool {
	if w.TargetCircleText == "" {
		return false
	}
	return annotations.NormalizeLabel(w.TargetCircleText) != w.highlightedFor
}

// WorkspaceView is the frontend-facing snapshot of a workspace. All shape
// coordinates are in displayed pixels.
type WorkspaceView struct {
	ID            string                   `json:"id"`
	PageLabel     string                   `json:"pageLabel"`
	IsDetail      bool                     `json:"isDetail"`
	Active        bool                     `json:"active"`
	ImagePath     string                   `json:"imagePath"`
	ImageInfo     *geometry.ImageInfo      `json:"imageInfo,omitempty"`
	LoadState     LoadState                `json:"loadState"`
	LoadError     string                   `json:"loadError,omitempty"`
	DetectState   string                   `json:"detectState"`
	DetectError   string                   `json:"detectError,omitempty"`
	Circles       []annotations.Circle     `json:"circles"`
	Texts         []annotations.TextRegion `json:"texts"`
	CropPreview   string                   `json:"cropPreview,omitempty"`
	SelectedShape *annotations.Shape       `json:"selectedShape,omitempty"`
}

// WorkspaceSummary is the compact listing used by the workspace switcher.
type WorkspaceSummary struct {
	ID        string `json:"id"`
	PageLabel string `json:"pageLabel"`
	IsDetail  bool   `json:"isDetail"`
	Active    bool   `json:"active"`
}
