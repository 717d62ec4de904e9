package settings

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GetEffectiveSettings returns the effective settings (defaults overlaid with file overrides if any).
// If anything goes wrong, it returns defaults.
func GetEffectiveSettings() Settings {
	settings := defaultSettings
	path, err := settingsFilePath()
	if err != nil {
		return settings
	}
	if _, err := os.Stat(path); err != nil {
		// no file or other stat error -> return defaults
		return settings
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return settings
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return settings
	}
	applyOverrides(&settings, m)
	return settings
}

// applyOverrides overlays values from a parsed yaml map onto settings,
// keeping defaults for absent or mistyped keys.
func applyOverrides(settings *Settings, m map[string]any) {
	if v, ok := m["detection_base_url"]; ok {
		if vs, oks := v.(string); oks && vs != "" {
			settings.DetectionBaseURL = vs
		}
	}
	if v, ok := m["explanation_base_url"]; ok {
		if vs, oks := v.(string); oks && vs != "" {
			settings.ExplanationBaseURL = vs
		}
	}
	if v, ok := m["sheets_dir"]; ok {
		if vs, oks := v.(string); oks && vs != "" {
			settings.SheetsDir = vs
		}
	}
	if v, ok := m["sheet_path_template"]; ok {
		if vs, oks := v.(string); oks && vs != "" {
			settings.SheetPathTemplate = vs
		}
	}
	if v, ok := m["enable_detection_cache"]; ok {
		if vb, okb := v.(bool); okb {
			settings.EnableDetectionCache = vb
		}
	}
	if v, ok := m["cache_size_limit_mb"]; ok {
		if vi, oki := v.(int); oki && vi > 0 {
			settings.CacheSizeLimitMB = vi
		}
	}
	if v, ok := m["activity_log_path"]; ok {
		if vs, oks := v.(string); oks {
			settings.ActivityLogPath = vs
		}
	}
	if v, ok := m["inactivity_timeout_minutes"]; ok {
		if vi, oki := v.(int); oki && vi > 0 {
			settings.InactivityTimeoutMinutes = vi
		}
	}
	if v, ok := m["session_signing_key"]; ok {
		if vs, oks := v.(string); oks {
			settings.SessionSigningKey = vs
		}
	}
	if v, ok := m["instance_id"]; ok {
		if vs, oks := v.(string); oks {
			settings.InstanceID = vs
		}
	}
	if v, ok := m["window_width"]; ok {
		if vi, oki := v.(int); oki && vi >= 400 {
			settings.WindowWidth = vi
		}
	}
	if v, ok := m["window_height"]; ok {
		if vi, oki := v.(int); oki && vi >= 300 {
			settings.WindowHeight = vi
		}
	}
}

func settingsFilePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(exe)
	return filepath.Join(dir, "planlens.yml"), nil
}
