// Package config provides the configuration schema and loader for kai.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration decoded from strings such as "30s".
type Duration time.Duration

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Camera     CameraConfig     `yaml:"camera"`
	Detector   DetectorConfig   `yaml:"detector"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Training   TrainingConfig   `yaml:"training"`
	Tray       TrayConfig       `yaml:"tray"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	// ListenAddr is the TCP address to serve on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir holds the page assets. Empty means search the usual places.
	StaticDir string `yaml:"static_dir"`
}

// StorageConfig locates the progress database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	DeviceID int `yaml:"device_id"`
	FPS      int `yaml:"fps"`
}

// DetectorConfig tunes the hand landmark detector.
type DetectorConfig struct {
	MaxHands      int     `yaml:"max_hands"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// ClassifierConfig locates the model artifact and its label list.
type ClassifierConfig struct {
	ModelPath  string `yaml:"model_path"`
	LabelsPath string `yaml:"labels_path"`
}

// TrainingConfig configures the training panel.
type TrainingConfig struct {
	// Endpoint receives submitted datasets. Empty disables submission.
	Endpoint string `yaml:"endpoint"`

	// Username and Password open the training panel gate.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	SubmitTimeout Duration `yaml:"submit_timeout"`
}

// TrayConfig toggles the system tray icon.
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}
