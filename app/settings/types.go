package settings

// Settings holds application settings that can be overridden by the user.
type Settings struct {
	// Base URL of the external detection service
	DetectionBaseURL string `yaml:"detection_base_url" json:"detection_base_url"`
	// Base URL of the external explanation (LLM) service
	ExplanationBaseURL string `yaml:"explanation_base_url" json:"explanation_base_url"`
	// Directory holding the sheet image files for drill-down navigation
	SheetsDir string `yaml:"sheets_dir" json:"sheets_dir"`
	// Template used to resolve a page label to an image file inside SheetsDir.
	// {label} is replaced with the referenced page number, e.g. "A5.1".
	SheetPathTemplate string `yaml:"sheet_path_template" json:"sheet_path_template"`
	// EnableDetectionCache controls whether detection results are cached by
	// image content hash
	EnableDetectionCache bool `yaml:"enable_detection_cache" json:"enable_detection_cache"`
	// Cache size limit in MB for the detection result cache
	CacheSizeLimitMB int `yaml:"cache_size_limit_mb" json:"cache_size_limit_mb"`
	// Path of the CSV activity log (empty uses activity_log.csv next to the binary)
	ActivityLogPath string `yaml:"activity_log_path" json:"activity_log_path"`
	// Idle minutes before the session is torn down automatically
	InactivityTimeoutMinutes int `yaml:"inactivity_timeout_minutes" json:"inactivity_timeout_minutes"`
	// SessionSigningKey signs session tokens (not visible in settings dialog)
	SessionSigningKey string `yaml:"session_signing_key,omitempty" json:"session_signing_key,omitempty"`
	// InstanceID is a unique identifier for this PlanLens installation (not visible in settings dialog)
	InstanceID string `yaml:"instance_id,omitempty" json:"instance_id,omitempty"`
	// Window size settings (not visible in settings dialog, but persisted)
	WindowWidth  int `yaml:"window_width,omitempty" json:"window_width,omitempty"`
	WindowHeight int `yaml:"window_height,omitempty" json:"window_height,omitempty"`
}

// CacheManager interface defines methods that SettingsService needs for
// cache management. This breaks the circular dependency between app and
// settings packages.
type CacheManager interface {
	ClearDetectionCache()
	UpdateCacheSize()
}

// defaultSettings defines the built-in defaults.
var defaultSettings = Settings{
	DetectionBaseURL:         "http://127.0.0.1:8001/detect",
	ExplanationBaseURL:       "http://127.0.0.1:8001/llm-images",
	SheetsDir:                "sheets",
	SheetPathTemplate:        "{label}.png",
	EnableDetectionCache:     true,
	CacheSizeLimitMB:         100,
	InactivityTimeoutMinutes: 30,
	WindowWidth:              1280,
	WindowHeight:             860,
}
