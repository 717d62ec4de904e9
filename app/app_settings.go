package app

import (
	"fmt"
	"strings"

	"planlens/app/export"
	"planlens/app/settings"
	"planlens/app/sheets"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// GetEffectiveSettings returns defaults overlaid with the user's settings
// file.
func (a *App) GetEffectiveSettings() *settings.Settings {
	current := settings.GetEffectiveSettings()
	return &current
}

// SaveSettings persists user settings and applies the ones the running app
// consumes directly.
func (a *App) SaveSettings(newSettings *settings.Settings) error {
	if newSettings == nil {
		return fmt.Errorf("settings cannot be nil")
	}

	svc := settings.NewSettingsService()
	svc.SetCacheManager(a)
	if err := svc.SaveSettings(*newSettings); err != nil {
		return err
	}

	a.wsMu.Lock()
	a.resolver = sheets.NewResolver(newSettings.SheetsDir, newSettings.SheetPathTemplate)
	a.wsMu.Unlock()
	a.Log("info", "Settings saved")
	return nil
}

// SaveWindowSize persists the current window size.
func (a *App) SaveWindowSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid window size %dx%d", width, height)
	}
	svc := settings.NewSettingsService()
	current, err := svc.GetSettings()
	if err != nil {
		return err
	}
	current.WindowWidth = width
	current.WindowHeight = height
	return svc.SaveSettings(current)
}

// GetSavedWindowSize returns the persisted window size.
func (a *App) GetSavedWindowSize() (width, height int, err error) {
	current := settings.GetEffectiveSettings()
	return current.WindowWidth, current.WindowHeight, nil
}

// GetInstanceID returns this installation's stable identifier, creating it
// on first use.
func (a *App) GetInstanceID() (string, error) {
	svc := settings.NewSettingsService()
	if err := svc.EnsureInstanceID(); err != nil {
		return "", err
	}
	current, err := svc.GetSettings()
	if err != nil {
		return "", err
	}
	return current.InstanceID, nil
}

// ExportAnnotations writes a workspace's detections to an XLSX workbook
// chosen through a save dialog. Returns false when the user cancels.
func (a *App) ExportAnnotations(workspaceID string) (bool, error) {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return false, err
	}

	a.wsMu.RLock()
	label := ws.PageLabel
	set := ws.Raw
	a.wsMu.RUnlock()
	if set.Empty() {
		return false, fmt.Errorf("workspace %q has no detections to export", workspaceID)
	}

	defaultName := label
	if defaultName == "" {
		defaultName = workspaceID
	}
	path, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "Export Detections",
		DefaultFilename: defaultName + ".xlsx",
		Filters:         []runtime.FileFilter{{DisplayName: "Excel Workbook", Pattern: "*.xlsx"}},
	})
	if err != nil {
		return false, err
	}
	if path == "" {
		return false, nil
	}
	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		path += ".xlsx"
	}

	if err := a.exportAnnotationsTo(workspaceID, path); err != nil {
		return false, err
	}
	a.Log("info", fmt.Sprintf("Exported detections to %s", path))
	return true, nil
}

// exportAnnotationsTo writes the workbook to an explicit path.
func (a *App) exportAnnotationsTo(workspaceID, path string) error {
	ws, err := a.getWorkspace(workspaceID)
	if err != nil {
		return err
	}

	a.wsMu.RLock()
	label := ws.PageLabel
	set := ws.Raw
	a.wsMu.RUnlock()

	if err := export.WriteWorkbook(path, label, set); err != nil {
		return err
	}
	a.record("annotations_exported", map[string]any{"workspace": workspaceID, "path": path})
	return nil
}
