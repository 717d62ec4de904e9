package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SettingsService manages reading/writing settings from disk.
type SettingsService struct {
	ctx          context.Context
	cacheManager CacheManager
}

func NewSettingsService() *SettingsService {
	return &SettingsService{}
}

// SetCacheManager allows the main function to inject the cache manager
func (s *SettingsService) SetCacheManager(cm CacheManager) {
	s.cacheManager = cm
}

// Startup receives the Wails context
func (s *SettingsService) Startup(ctx context.Context) {
	s.ctx = ctx
}

// GetSettings returns the effective settings (defaults overlaid with file overrides if any).
func (s *SettingsService) GetSettings() (Settings, error) {
	settings := defaultSettings
	path, err := settingsFilePath()
	if err != nil {
		return settings, err
	}
	// If file doesn't exist, return defaults
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	// Unmarshal into a generic map to detect key presence
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return settings, err
	}
	applyOverrides(&settings, m)
	return settings, nil
}

// SaveSettings saves only the values that differ from defaults into YAML in the binary directory.
func (s *SettingsService) SaveSettings(in Settings) error {
	// Get current settings to detect changes
	old := GetEffectiveSettings()
	cacheSizeChanged := old.CacheSizeLimitMB != in.CacheSizeLimitMB
	cacheDisabled := old.EnableDetectionCache && !in.EnableDetectionCache

	// Build a minimal map containing only non-default values to avoid zero-value serialization pitfalls
	data := make(map[string]any)
	if strings.TrimSpace(in.DetectionBaseURL) != defaultSettings.DetectionBaseURL && strings.TrimSpace(in.DetectionBaseURL) != "" {
		data["detection_base_url"] = strings.TrimSpace(in.DetectionBaseURL)
	}
	if strings.TrimSpace(in.ExplanationBaseURL) != defaultSettings.ExplanationBaseURL && strings.TrimSpace(in.ExplanationBaseURL) != "" {
		data["explanation_base_url"] = strings.TrimSpace(in.ExplanationBaseURL)
	}
	if strings.TrimSpace(in.SheetsDir) != defaultSettings.SheetsDir && strings.TrimSpace(in.SheetsDir) != "" {
		data["sheets_dir"] = strings.TrimSpace(in.SheetsDir)
	}
	if strings.TrimSpace(in.SheetPathTemplate) != defaultSettings.SheetPathTemplate && strings.TrimSpace(in.SheetPathTemplate) != "" {
		data["sheet_path_template"] = strings.TrimSpace(in.SheetPathTemplate)
	}
	if in.EnableDetectionCache != defaultSettings.EnableDetectionCache {
		data["enable_detection_cache"] = in.EnableDetectionCache
	}
	if in.CacheSizeLimitMB != defaultSettings.CacheSizeLimitMB && in.CacheSizeLimitMB > 0 {
		data["cache_size_limit_mb"] = in.CacheSizeLimitMB
	}
	if strings.TrimSpace(in.ActivityLogPath) != "" {
		data["activity_log_path"] = strings.TrimSpace(in.ActivityLogPath)
	}
	if in.InactivityTimeoutMinutes != defaultSettings.InactivityTimeoutMinutes && in.InactivityTimeoutMinutes > 0 {
		data["inactivity_timeout_minutes"] = in.InactivityTimeoutMinutes
	}

	// Preserve the signing key from file (not visible in settings dialog, but must persist)
	signingKey := strings.TrimSpace(in.SessionSigningKey)
	if signingKey == "" {
		signingKey = strings.TrimSpace(old.SessionSigningKey)
	}
	if signingKey != "" {
		data["session_signing_key"] = signingKey
	}

	// Preserve instance ID (not visible in settings dialog, but must persist)
	instanceID := strings.TrimSpace(in.InstanceID)
	if instanceID == "" {
		instanceID = strings.TrimSpace(old.InstanceID)
	}
	if instanceID != "" {
		data["instance_id"] = instanceID
	}

	// Preserve window size (not visible in settings dialog, but must persist)
	windowWidth := in.WindowWidth
	if windowWidth == 0 {
		windowWidth = old.WindowWidth
	}
	if windowWidth != defaultSettings.WindowWidth && windowWidth >= 400 {
		data["window_width"] = windowWidth
	}

	windowHeight := in.WindowHeight
	if windowHeight == 0 {
		windowHeight = old.WindowHeight
	}
	if windowHeight != defaultSettings.WindowHeight && windowHeight >= 300 {
		data["window_height"] = windowHeight
	}

	path, err := settingsFilePath()
	if err != nil {
		return err
	}

	if len(data) == 0 {
		// If there is an existing file, remove it to reflect defaults-only state
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(path)
		}
	} else {
		b, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return fmt.Errorf("failed to write settings: %w", err)
		}
	}

	// Apply cache-affecting changes immediately
	if s.cacheManager != nil {
		if cacheDisabled {
			s.cacheManager.ClearDetectionCache()
		}
		if cacheSizeChanged {
			s.cacheManager.UpdateCacheSize()
		}
	}

	return nil
}

// EnsureInstanceID generates and persists a unique installation id on first
// startup.
func (s *SettingsService) EnsureInstanceID() error {
	current := GetEffectiveSettings()
	if strings.TrimSpace(current.InstanceID) != "" {
		return nil
	}
	current.InstanceID = uuid.NewString()
	return s.SaveSettings(current)
}
