package applogger

import (
	"fmt"
	"strings"
)

// DefaultHost is the placeholder collector address. A client whose host is
// still DefaultHost is not considered configured.
const DefaultHost = "https://your-collector.example.com"

// Settings is a point-in-time snapshot of the client configuration. The client
// never mutates a snapshot it was given; UpdateSettings replaces it whole.
type Settings struct {
	APIToken   string `yaml:"api_token" json:"apiToken"`
	AppName    string `yaml:"app_name" json:"appName"`
	AppVersion string `yaml:"app_version" json:"appVersion"`
	Host       string `yaml:"host" json:"host"`
	InstallID  string `yaml:"install_id" json:"installId"`

	EnableAnalytics bool  `yaml:"enable_analytics" json:"enableAnalytics"`
	EnableCrashes   bool  `yaml:"enable_crashes" json:"enableCrashes"`
	EnableAPI       bool  `yaml:"enable_api" json:"enableApi"`
	LogLevel        Level `yaml:"log_level" json:"logLevel"`

	TakeScreenshotOnError bool `yaml:"take_screenshot_on_error" json:"takeScreenshotOnError"`
	IncludeAppState       bool `yaml:"include_app_state" json:"includeAppState"`
	IncludeLogFile        bool `yaml:"include_log_file" json:"includeLogFile"`
}

// DefaultSettings enables analytics, crashes and the API at Information level
// and leaves the host at the placeholder.
func DefaultSettings() Settings {
	return Settings{
		Host:            DefaultHost,
		EnableAnalytics: true,
		EnableCrashes:   true,
		EnableAPI:       true,
		LogLevel:        LevelInformation,
	}
}

// HostConfigured reports whether Host points somewhere other than the placeholder.
func (s Settings) HostConfigured() bool {
	h := strings.TrimRight(strings.TrimSpace(s.Host), "/")
	return h != "" && h != DefaultHost
}

// Validate returns an error wrapping ErrInvalidConfig naming the first missing value.
func (s Settings) Validate() error {
	switch {
	case strings.TrimSpace(s.APIToken) == "":
		return fmt.Errorf("%w: api token is required", ErrInvalidConfig)
	case strings.TrimSpace(s.AppName) == "":
		return fmt.Errorf("%w: app name is required", ErrInvalidConfig)
	case !s.HostConfigured():
		return fmt.Errorf("%w: collector host is not configured", ErrInvalidConfig)
	}
	return nil
}

// levelEnabled is the threshold check shared by the client and its factory.
func (s Settings) levelEnabled(level Level) bool {
	if level == LevelNone || level < LevelTrace || level > LevelNone {
		return false
	}
	return level >= s.LogLevel
}

// gateAllows applies the feature flag for the severity class of level:
// errors use the crash flag, everything else the analytics flag.
func (s Settings) gateAllows(level Level) bool {
	if level >= LevelError {
		return s.EnableCrashes
	}
	return s.EnableAnalytics
}
