package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KAI_"

// Default returns the configuration used when no file is present.
func Default() *Config {
	dataDir := ".kai"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".kai")
	}

	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Storage: StorageConfig{
			Path: filepath.Join(dataDir, "kai.db"),
		},
		Camera: CameraConfig{
			DeviceID: 0,
			FPS:      30,
		},
		Detector: DetectorConfig{
			MaxHands:      1,
			MinConfidence: 0.5,
		},
		Classifier: ClassifierConfig{
			ModelPath:  filepath.Join("models", "model.json"),
			LabelsPath: filepath.Join("models", "labels.json"),
		},
		Training: TrainingConfig{
			Endpoint:      "http://localhost:5000/train",
			Username:      "admin",
			Password:      "senati",
			SubmitTimeout: Duration(30 * time.Second),
		},
		Tray: TrayConfig{
			Enabled: false,
		},
	}
}

// Load reads the YAML configuration file at path on top of the defaults,
// applies environment overrides and validates the result. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with KAI_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}
	str("STATIC_DIR", &cfg.Server.StaticDir)
	str("STORAGE_PATH", &cfg.Storage.Path)
	integer("CAMERA_DEVICE_ID", &cfg.Camera.DeviceID)
	integer("CAMERA_FPS", &cfg.Camera.FPS)
	integer("DETECTOR_MAX_HANDS", &cfg.Detector.MaxHands)
	float("DETECTOR_MIN_CONFIDENCE", &cfg.Detector.MinConfidence)
	str("MODEL_PATH", &cfg.Classifier.ModelPath)
	str("LABELS_PATH", &cfg.Classifier.LabelsPath)
	str("TRAINING_ENDPOINT", &cfg.Training.Endpoint)
	str("TRAINING_USERNAME", &cfg.Training.Username)
	str("TRAINING_PASSWORD", &cfg.Training.Password)
	if v, ok := lookup(EnvPrefix + "TRAINING_SUBMIT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTRAINING_SUBMIT_TIMEOUT: %w", EnvPrefix, err))
		} else {
			cfg.Training.SubmitTimeout = Duration(d)
		}
	}
	boolean("TRAY_ENABLED", &cfg.Tray.Enabled)

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if cfg.Camera.DeviceID < 0 {
		errs = append(errs, fmt.Errorf("camera.device_id %d must not be negative", cfg.Camera.DeviceID))
	}
	if cfg.Camera.FPS <= 0 || cfg.Camera.FPS > 120 {
		errs = append(errs, fmt.Errorf("camera.fps %d is out of range [1, 120]", cfg.Camera.FPS))
	}
	if cfg.Detector.MaxHands < 1 {
		errs = append(errs, fmt.Errorf("detector.max_hands %d must be at least 1", cfg.Detector.MaxHands))
	}
	if cfg.Detector.MinConfidence < 0 || cfg.Detector.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detector.min_confidence %.2f is out of range [0, 1]", cfg.Detector.MinConfidence))
	}
	if cfg.Classifier.ModelPath == "" {
		errs = append(errs, errors.New("classifier.model_path is required"))
	}
	if cfg.Classifier.LabelsPath == "" {
		errs = append(errs, errors.New("classifier.labels_path is required"))
	}
	if cfg.Training.SubmitTimeout < 0 {
		errs = append(errs, fmt.Errorf("training.submit_timeout %s must not be negative", time.Duration(cfg.Training.SubmitTimeout)))
	}
	if (cfg.Training.Username == "") != (cfg.Training.Password == "") {
		errs = append(errs, errors.New("training.username and training.password must be set together"))
	}

	return errors.Join(errs...)
}

// UnmarshalYAML decodes durations written as "30s" or as integer seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FindStaticDir returns dir when set, otherwise the first web directory found
// in the working directory, its parents or ~/.kai/web. It returns "" when
// none exists.
func FindStaticDir(dir string) string {
	if dir != "" {
		return dir
	}

	candidates := []string{"web", "../web", "../../web"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".kai", "web"))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
