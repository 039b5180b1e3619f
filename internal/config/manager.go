package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. CAPTUREPIPE_OUTPUT_FILENAME
const EnvPrefix = "CAPTUREPIPE"

// Manager loads configuration from file, environment and flags
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/capturepipe/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "capturepipe", "config.yaml"), nil
}

// NewManager creates a configuration manager. v may carry flags bound by
// the caller; nil creates a fresh viper instance.
func NewManager(configFile string, v *viper.Viper) (*Manager, error) {
	if v == nil {
		v = viper.New()
	}

	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
	}

	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := m.load(); err != nil {
		return nil, err
	}

	return m, nil
}

// load reads the config file (if present) and unmarshals the merged view
func (m *Manager) load() error {
	log := logger.WithComponent("config")

	m.v.SetConfigFile(m.configPath)
	m.v.SetConfigType("yaml")
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			log.Debug().
				Str("path", m.configPath).
				Msg("Config file not found, using defaults")
		} else {
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		log.Info().Str("path", m.configPath).Msg("Config loaded")
	}

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		cfg := Default()
		return &cfg
	}

	cfg := *m.config
	cfg.Audio.Sources = append([]AudioSourceType(nil), m.config.Audio.Sources...)
	return &cfg
}

// Save writes the current configuration to disk as YAML
func (m *Manager) Save() error {
	cfg := m.Get()
	log := logger.WithComponent("config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	log.Info().Str("path", m.configPath).Msg("Config saved successfully")
	return nil
}

// Set changes one known key and re-reads the merged configuration. Values
// are decoded like environment variables, so "9090" sets an int and
// "render,capture" sets a list.
func (m *Manager) Set(key string, value any) error {
	if !slices.Contains(m.v.AllKeys(), strings.ToLower(key)) {
		return fmt.Errorf("%w: unknown key %q", ErrConfig, key)
	}

	m.v.Set(key, value)
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfig, key, err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// GetViper exposes the underlying viper instance for key-level access
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// GetConfigPath returns the path of the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("video.frameRate", d.Video.FrameRate)
	v.SetDefault("video.captureCursor", d.Video.CaptureCursor)
	v.SetDefault("video.source.type", string(d.Video.Source.Type))
	v.SetDefault("video.source.screenId", d.Video.Source.ScreenID)
	v.SetDefault("video.source.windowTitle", d.Video.Source.WindowTitle)
	v.SetDefault("audio.source.type", string(d.Audio.Source.Type))
	v.SetDefault("audio.deviceName", d.Audio.DeviceName)
	sources := make([]string, 0, len(d.Audio.Sources))
	for _, s := range d.Audio.Sources {
		sources = append(sources, string(s))
	}
	v.SetDefault("audio.sources", sources)
	v.SetDefault("output.fileName", d.Output.FileName)
	v.SetDefault("output.finalizeWavHeader", d.Output.FinalizeWAVHeader)
	v.SetDefault("encoder.bitrate", d.Encoder.Bitrate)
	v.SetDefault("recording.video", d.Recording.Video)
	v.SetDefault("recording.postProcess", d.Recording.PostProcess)
	v.SetDefault("recording.ffmpegPath", d.Recording.FFmpegPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}
