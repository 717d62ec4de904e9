package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"planlens/app/cache"
	"planlens/app/detect"
	"planlens/app/explain"
	"planlens/app/session"
	"planlens/app/settings"
	"planlens/app/sheets"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	clipboard "golang.design/x/clipboard"
)

// App struct
type App struct {
	ctx context.Context

	// Workspace registry: the main sheet plus any open detail sheets
	wsMu              sync.RWMutex
	workspaces        map[string]*Workspace
	activeWorkspaceID string

	// clipboard init
	clipOnce sync.Once
	clipOK   bool

	orchestrator   *detect.Orchestrator
	explainer      *explain.Client
	resolver       *sheets.Resolver
	detectionCache *cache.Cache
	sessions       *session.Service
	activityLog    *session.ActivityLogger
}

// NewApp creates a new App application struct wired from the effective
// settings.
func NewApp() *App {
	current := settings.GetEffectiveSettings()

	a := &App{
		workspaces:        make(map[string]*Workspace),
		activeWorkspaceID: MainWorkspaceID,
	}
	a.workspaces[MainWorkspaceID] = &Workspace{ID: MainWorkspaceID, LoadState: LoadIdle}

	if current.EnableDetectionCache {
		a.detectionCache = cache.NewCache(int64(current.CacheSizeLimitMB) * 1024 * 1024)
	}
	a.orchestrator = detect.NewOrchestrator(detect.NewClient(current.DetectionBaseURL), a.detectionCache)
	a.explainer = explain.NewClient(current.ExplanationBaseURL)
	a.resolver = sheets.NewResolver(current.SheetsDir, current.SheetPathTemplate)

	logPath := current.ActivityLogPath
	if logPath == "" {
		logPath = defaultActivityLogPath()
	}
	activityLog, err := session.NewActivityLogger(logPath)
	if err != nil {
		// The app still works without the audit trail
		fmt.Fprintf(os.Stderr, "activity log unavailable: %v\n", err)
	} else {
		a.activityLog = activityLog
	}

	timeout := time.Duration(current.InactivityTimeoutMinutes) * time.Minute
	a.sessions = session.NewService(current.SessionSigningKey, timeout, a.activityLog, func() {
		a.Log("info", "Session expired after inactivity")
		if a.ctx != nil {
			runtime.EventsEmit(a.ctx, "session:expired")
		}
	})

	return a
}

// defaultActivityLogPath places the activity log next to the executable.
func defaultActivityLogPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "activity_log.csv"
	}
	return filepath.Join(filepath.Dir(exe), "activity_log.csv")
}

// Startup is called by Wails when the app starts
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	if a.detectionCache != nil {
		a.detectionCache.SetLogger(a)
	}
}

// Shutdown is called by Wails when the app closes.
func (a *App) Shutdown(ctx context.Context) {
	a.sessions.Logout()
	if a.activityLog != nil {
		a.activityLog.Close()
	}
}

// Ctx returns the app context
func (a *App) Ctx() context.Context {
	return a.ctx
}

// Log emits a structured log event to the frontend console window
func (a *App) Log(level, message string) {
	if a == nil || a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, "log", map[string]any{
		"level":   level,
		"message": message,
	})
}

// getWorkspace returns a workspace by id.
func (a *App) getWorkspace(id string) (*Workspace, error) {
	a.wsMu.RLock()
	defer a.wsMu.RUnlock()
	ws, ok := a.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("no workspace %q", id)
	}
	return ws, nil
}

// GetWorkspace returns a frontend snapshot of one workspace.
func (a *App) GetWorkspace(id string) (*WorkspaceView, error) {
	a.wsMu.RLock()
	defer a.wsMu.RUnlock()
	ws, ok := a.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("no workspace %q", id)
	}
	return a.viewLocked(ws), nil
}

// GetActiveWorkspace returns a snapshot of the active workspace.
func (a *App) GetActiveWorkspace() *WorkspaceView {
	a.wsMu.RLock()
	defer a.wsMu.RUnlock()
	ws, ok := a.workspaces[a.activeWorkspaceID]
	if !ok {
		return nil
	}
	return a.viewLocked(ws)
}

// ListWorkspaces returns summaries for the workspace switcher: the main
// sheet first, then detail sheets ordered by page label so the list is
// stable between calls.
func (a *App) ListWorkspaces() []WorkspaceSummary {
	a.wsMu.RLock()
	defer a.wsMu.RUnlock()

	out := make([]WorkspaceSummary, 0, len(a.workspaces))
	if main, ok := a.workspaces[MainWorkspaceID]; ok {
		out = append(out, a.summaryLocked(main))
	}

	details := make([]*Workspace, 0, len(a.workspaces))
	for id, ws := range a.workspaces {
		if id == MainWorkspaceID {
			continue
		}
		details = append(details, ws)
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].PageLabel != details[j].PageLabel {
			return details[i].PageLabel < details[j].PageLabel
		}
		return details[i].ID < details[j].ID
	})
	for _, ws := range details {
		out = append(out, a.summaryLocked(ws))
	}
	return out
}

// viewLocked builds a WorkspaceView. Caller holds wsMu.
func (a *App) viewLocked(ws *Workspace) *WorkspaceView {
	state, detectErr := a.orchestrator.State(ws.ID)
	view := &WorkspaceView{
		ID:            ws.ID,
		PageLabel:     ws.PageLabel,
		IsDetail:      ws.IsDetail,
		Active:        ws.ID == a.activeWorkspaceID,
		LoadState:     ws.LoadState,
		LoadError:     ws.LoadErr,
		DetectState:   state.String(),
		DetectError:   detectErr,
		Circles:       ws.Scaled.Circles,
		Texts:         ws.Scaled.Texts,
		CropPreview:   ws.CropPreview,
		SelectedShape: ws.Selected,
	}
	if ws.Sheet != nil {
		view.ImagePath = ws.Sheet.Path
		info := ws.Info
		view.ImageInfo = &info
	}
	return view
}

func (a *App) summaryLocked(ws *Workspace) WorkspaceSummary {
	return WorkspaceSummary{
		ID:        ws.ID,
		PageLabel: ws.PageLabel,
		IsDetail:  ws.IsDetail,
		Active:    ws.ID == a.activeWorkspaceID,
	}
}

// ClearDetectionCache drops all cached detection results.
func (a *App) ClearDetectionCache() {
	if a.detectionCache != nil {
		a.detectionCache.Clear()
		a.Log("info", "Detection cache cleared")
	}
}

// UpdateCacheSize re-reads the cache size limit from settings.
func (a *App) UpdateCacheSize() {
	if a.detectionCache == nil {
		return
	}
	current := settings.GetEffectiveSettings()
	a.detectionCache.SetMaxSize(int64(current.CacheSizeLimitMB) * 1024 * 1024)
}

// CacheStatsResponse contains cache statistics for the frontend
type CacheStatsResponse struct {
	TotalSize    int64   `json:"totalSize"`
	MaxSize      int64   `json:"maxSize"`
	UsagePercent float64 `json:"usagePercent"`
	EntryCount   int     `json:"entryCount"`
}

// GetCacheStats returns the current cache statistics for the frontend
func (a *App) GetCacheStats() CacheStatsResponse {
	if a.detectionCache == nil {
		return CacheStatsResponse{}
	}
	stats := a.detectionCache.GetStats()
	return CacheStatsResponse{
		TotalSize:    stats.TotalSize,
		MaxSize:      stats.MaxSize,
		UsagePercent: stats.UsagePercent,
		EntryCount:   stats.TotalEntries,
	}
}

// Login starts a user session.
func (a *App) Login(name, email string) (*session.Session, error) {
	sess, err := a.sessions.Login(name, email)
	if err != nil {
		return nil, err
	}
	a.Log("info", fmt.Sprintf("Session started for %s", sess.Email))
	return sess, nil
}

// Logout ends the current session.
func (a *App) Logout() {
	a.sessions.Logout()
}

// RecordActivity logs a frontend-originated activity event against the
// current session.
func (a *App) RecordActivity(eventType string, data map[string]any) {
	a.sessions.Touch()
	a.sessions.Record(eventType, data)
}

// GetSession returns the active session, or nil when nobody is logged in.
func (a *App) GetSession() *session.Session {
	return a.sessions.Current()
}

// record logs a backend-originated activity event.
func (a *App) record(eventType string, data map[string]any) {
	a.sessions.Touch()
	a.sessions.Record(eventType, data)
}

// Maximum clipboard size in bytes (10MB) - helps avoid X11 BadLength errors on Linux
const maxClipboardSize = 10 * 1024 * 1024

// safeClipboardWrite attempts to write data to clipboard with panic recovery.
func safeClipboardWrite(format clipboard.Format, data []byte) (err error) {
	if len(data) > maxClipboardSize {
		return fmt.Errorf("data too large for clipboard (%d bytes, max %d bytes)", len(data), maxClipboardSize)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("clipboard write failed: %v", r)
		}
	}()
	clipboard.Write(format, data)
	return nil
}

// copyToClipboard lazily initializes the clipboard and writes text to it.
func (a *App) copyToClipboard(text string) error {
	a.clipOnce.Do(func() {
		if err := clipboard.Init(); err == nil {
			a.clipOK = true
		} else {
			a.clipOK = false
			a.Log("error", fmt.Sprintf("Clipboard init failed: %v", err))
		}
	})
	if !a.clipOK {
		return fmt.Errorf("clipboard not available")
	}
	return safeClipboardWrite(clipboard.FmtText, []byte(text))
}
