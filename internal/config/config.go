package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig is returned when a configuration cannot be used to build a pipeline
var ErrConfig = errors.New("invalid pipeline config")

// AudioSourceType selects which endpoint the audio stage records from
type AudioSourceType string

const (
	// AudioSourceRender captures the system output through loopback
	AudioSourceRender AudioSourceType = "render"
	// AudioSourceCapture captures the default input device (microphone)
	AudioSourceCapture AudioSourceType = "capture"
)

// VideoSourceType selects between whole-screen and single-window capture
type VideoSourceType string

const (
	VideoSourceDesktop VideoSourceType = "desktop"
	VideoSourceWindow  VideoSourceType = "window"
)

// VideoSource identifies what is captured
type VideoSource struct {
	Type        VideoSourceType `json:"type" yaml:"type" mapstructure:"type"`
	ScreenID    int             `json:"screenId" yaml:"screenId" mapstructure:"screenId"`
	WindowTitle string          `json:"windowTitle,omitempty" yaml:"windowTitle,omitempty" mapstructure:"windowTitle"`
}

// VideoConfig holds video capture parameters
type VideoConfig struct {
	FrameRate     int         `json:"frameRate" yaml:"frameRate" mapstructure:"frameRate"`
	CaptureCursor bool        `json:"captureCursor" yaml:"captureCursor" mapstructure:"captureCursor"`
	Source        VideoSource `json:"source" yaml:"source" mapstructure:"source"`
}

// AudioSource selects the audio endpoint for one pipeline
type AudioSource struct {
	Type AudioSourceType `json:"type" yaml:"type" mapstructure:"type"`
}

// AudioConfig holds audio capture parameters
type AudioConfig struct {
	Source AudioSource `json:"source" yaml:"source" mapstructure:"source"`
	// DeviceName overrides device selection by exact name. Empty uses the default.
	DeviceName string `json:"deviceName,omitempty" yaml:"deviceName,omitempty" mapstructure:"deviceName"`
	// Sources lists the endpoints a recording session builds one pipeline for
	Sources []AudioSourceType `json:"sources" yaml:"sources" mapstructure:"sources"`
}

// OutputConfig describes the single artifact a pipeline writes
type OutputConfig struct {
	FileName          string `json:"fileName" yaml:"fileName" mapstructure:"fileName"`
	FinalizeWAVHeader bool   `json:"finalizeWavHeader" yaml:"finalizeWavHeader" mapstructure:"finalizeWavHeader"`
}

// EncoderConfig holds hardware encoder tuning
type EncoderConfig struct {
	Bitrate int `json:"bitrate" yaml:"bitrate" mapstructure:"bitrate"`
}

// RecordingConfig controls the multi-pipeline recording session
type RecordingConfig struct {
	Video       bool   `json:"video" yaml:"video" mapstructure:"video"`
	PostProcess bool   `json:"postProcess" yaml:"postProcess" mapstructure:"postProcess"`
	FFmpegPath  string `json:"ffmpegPath" yaml:"ffmpegPath" mapstructure:"ffmpegPath"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// ServerConfig configures the HTTP control API
type ServerConfig struct {
	Port int `json:"port" yaml:"port" mapstructure:"port"`
}

// MetricsConfig toggles OpenTelemetry metrics
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// Config is supplied once when a pipeline is constructed and never changes
// afterwards. Stages only read it.
type Config struct {
	Video     VideoConfig     `json:"video" yaml:"video" mapstructure:"video"`
	Audio     AudioConfig     `json:"audio" yaml:"audio" mapstructure:"audio"`
	Output    OutputConfig    `json:"output" yaml:"output" mapstructure:"output"`
	Encoder   EncoderConfig   `json:"encoder" yaml:"encoder" mapstructure:"encoder"`
	Recording RecordingConfig `json:"recording" yaml:"recording" mapstructure:"recording"`
	Log       LogConfig       `json:"log" yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `json:"server" yaml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// Default returns the configuration used when a key is not set
func Default() Config {
	return Config{
		Video: VideoConfig{
			FrameRate: 30,
			Source:    VideoSource{Type: VideoSourceDesktop},
		},
		Audio: AudioConfig{
			Source:  AudioSource{Type: AudioSourceRender},
			Sources: []AudioSourceType{AudioSourceRender},
		},
		Output: OutputConfig{
			FinalizeWAVHeader: true,
		},
		Encoder: EncoderConfig{
			Bitrate: 5000000,
		},
		Recording: RecordingConfig{
			Video:       true,
			PostProcess: true,
			FFmpegPath:  "ffmpeg",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate reports construction-time problems. The output file name is the
// only field without a usable default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output.FileName) == "" {
		return fmt.Errorf("%w: output.fileName is required", ErrConfig)
	}
	if !validAudioSource(c.Audio.Source.Type) {
		return fmt.Errorf("%w: unknown audio source type %q", ErrConfig, c.Audio.Source.Type)
	}
	for _, s := range c.Audio.Sources {
		if !validAudioSource(s) {
			return fmt.Errorf("%w: unknown audio source type %q", ErrConfig, s)
		}
	}
	switch c.Video.Source.Type {
	case "", VideoSourceDesktop, VideoSourceWindow:
	default:
		return fmt.Errorf("%w: unknown video source type %q", ErrConfig, c.Video.Source.Type)
	}
	if c.Video.Source.ScreenID < 0 {
		return fmt.Errorf("%w: video.source.screenId must be >= 0", ErrConfig)
	}
	return nil
}

// Loopback reports whether audio should be captured from the render endpoint
func (a AudioConfig) Loopback() bool {
	return a.Source.Type != AudioSourceCapture
}

func validAudioSource(t AudioSourceType) bool {
	return t == AudioSourceRender || t == AudioSourceCapture
}
