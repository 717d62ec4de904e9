package app

import (
	"context"
	"fmt"

	"planlens/app/annotations"
	"planlens/app/explain"
)

// ActionType discriminates what a selected shape offers the user.
type ActionType string

const (
	// ActionNavigate opens the detail sheet a circle callout references.
	ActionNavigate ActionType = "navigate"
	// ActionExplain requests an explanation of a text region's content.
	ActionExplain ActionType = "explain"
	// ActionUnavailable marks a circle with no page reference; the popup
	// must say navigation is unavailable rather than silently doing
	// nothing.
	ActionUnavailable ActionType = "unavailable"
)

// ShapeAction is the resolved affordance of the selected shape.
type ShapeAction struct {
	Type       ActionType `json:"type"`
	PageNumber string     `json:"pageNumber,omitempty"`
	CircleText string     `json:"circleText,omitempty"`
	Text       string     `json:"text,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// SelectShape sets the workspace's selected shape and opens its popup.
func (a *App) SelectShape(workspaceID string, shape annotations.Shape) error {
	if shape.Kind != annotations.KindCircle && shape.Kind != annotations.KindText {
		return fmt.Errorf("unknown shape kind %q", shape.Kind)
	}

	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return err
	}

	a.wsMu.Lock()
	ws.Selected = &shape
	a.wsMu.Unlock()

	data := map[string]any{"workspace": workspaceID, "kind": string(shape.Kind)}
	if shape.Kind == annotations.KindCircle && shape.Circle != nil {
		data["circleText"] = shape.Circle.CircleText
	}
	a.record("shape_selected", data)
	return nil
}

// SelectShapeAt hit-tests the displayed-coordinate point against the
// workspace's scaled shapes, circles before text regions, and selects the
// first hit. It returns nil with no error when nothing is under the point.
func (a *App) SelectShapeAt(workspaceID string, x, y float64) (*annotations.Shape, error) {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	a.wsMu.RLock()
	var hit *annotations.Shape
	for _, c := range ws.Scaled.Circles {
		if c.Contains(x, y) {
			s := annotations.CircleShape(c)
			hit = &s
			break
		}
	}
	if hit == nil {
		for _, t := range ws.Scaled.Texts {
			if t.Contains(x, y) {
				s := annotations.TextShape(t)
				hit = &s
				break
			}
		}
	}
	a.wsMu.RUnlock()

	if hit == nil {
		return nil, nil
	}
	if err := a.SelectShape(workspaceID, *hit); err != nil {
		return nil, err
	}
	return hit, nil
}

// ClearSelection closes the workspace's popup. Clearing an empty selection
// is a no-op.
func (a *App) ClearSelection(workspaceID string) error {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return err
	}
	a.wsMu.Lock()
	ws.Selected = nil
	a.wsMu.Unlock()
	return nil
}

// ResolveShape resolves the selected shape into the action its popup
// offers: navigate for circles with a page reference, explain for text
// regions, and an explicit unavailable outcome for circles without one.
func (a *App) ResolveShape(workspaceID string) (*ShapeAction, error) {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	a.wsMu.RLock()
	sel := ws.Selected
	a.wsMu.RUnlock()
	if sel == nil {
		return nil, fmt.Errorf("no shape selected in workspace %q", workspaceID)
	}

	switch sel.Kind {
	case annotations.KindCircle:
		c := sel.Circle
		if c == nil {
			return nil, fmt.Errorf("selected circle has no data")
		}
		if c.PageNumber == "" {
			return &ShapeAction{
				Type:    ActionUnavailable,
				Message: "This callout has no readable page reference.",
			}, nil
		}
		return &ShapeAction{
			Type:       ActionNavigate,
			PageNumber: c.PageNumber,
			CircleText: c.CircleText,
		}, nil
	case annotations.KindText:
		t := sel.Text
		if t == nil {
			return nil, fmt.Errorf("selected text region has no data")
		}
		return &ShapeAction{Type: ActionExplain, Text: t.Text}, nil
	default:
		return nil, fmt.Errorf("unknown shape kind %q", sel.Kind)
	}
}

// ExplainSelection sends the selected text region's content to the
// explanation service. Failures come back as an error for the popup to
// show inline; they never affect workspace state.
func (a *App) ExplainSelection(workspaceID string) (*explain.Explanation, error) {
	action, err := a.ResolveShape(workspaceID)
	if err != nil {
		return nil, err
	}
	if action.Type != ActionExplain {
		return nil, fmt.Errorf("selected shape is not a text region")
	}

	a.record("explain_requested", map[string]any{"workspace": workspaceID})
	expl, err := a.explainer.Explain(context.Background(), action.Text)
	if err != nil {
		a.Log("error", fmt.Sprintf("Explanation failed: %v", err))
		return nil, err
	}
	return expl, nil
}

// CopySelectedText copies the selected text region's content to the system
// clipboard.
func (a *App) CopySelectedText(workspaceID string) (bool, error) {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return false, err
	}

	a.wsMu.RLock()
	sel := ws.Selected
	a.wsMu.RUnlock()
	if sel == nil || sel.Kind != annotations.KindText || sel.Text == nil {
		return false, fmt.Errorf("no text region selected")
	}

	if err := a.copyToClipboard(sel.Text.Text); err != nil {
		return false, err
	}
	a.record("text_copied", map[string]any{"workspace": workspaceID})
	return true, nil
}
