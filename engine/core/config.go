package core

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/image/colornames"
)

// Environment variables overriding the configuration file.
const (
	EnvLogLevel     = "TUNDRA_LOG_LEVEL"
	EnvPresentMode  = "TUNDRA_PRESENT_MODE"
	EnvValidation   = "TUNDRA_VALIDATION"
	EnvDebug        = "TUNDRA_DEBUG"
	EnvFramesFlight = "TUNDRA_FRAMES_IN_FLIGHT"
	EnvClearColor   = "TUNDRA_CLEAR_COLOR"
)

// Duration is a time.Duration that reads from TOML strings such as "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type ApplicationConfig struct {
	// The application name used in windowing and as the Vulkan application name.
	Name string `toml:"name"`
	// Window starting width.
	Width uint32 `toml:"width"`
	// Window starting height.
	Height uint32 `toml:"height"`
	// Window starting position.
	PosX uint32 `toml:"x"`
	PosY uint32 `toml:"y"`
}

type RendererConfig struct {
	// Number of frames the CPU may queue ahead of the GPU.
	FramesInFlight int `toml:"frames_in_flight"`
	// Swapchain image count requested, clamped to what the surface allows.
	DesiredImageCount uint32 `toml:"desired_image_count"`
	// Bound on the in-flight fence wait at the start of a frame.
	FenceTimeout Duration `toml:"fence_timeout"`
	// Bound on swapchain image acquisition.
	AcquireTimeout Duration `toml:"acquire_timeout"`
	// Preferred presentation mode: immediate, mailbox, fifo or fifo_relaxed.
	PresentMode string `toml:"present_mode"`
	// Preferred surface format: b8g8r8a8_unorm, b8g8r8a8_srgb, r8g8b8a8_unorm or r8g8b8a8_srgb.
	SurfaceFormat string `toml:"surface_format"`
	// Optional SVG 1.1 color name every frame is cleared to.
	ClearColor string `toml:"clear_color"`
	// Enables the Khronos validation layer and debug callback.
	Validation bool `toml:"validation"`
	// Turns ownership-order violations into panics.
	Debug bool `toml:"debug"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Log         LogConfig         `toml:"log"`
}

var presentModes = []string{"immediate", "mailbox", "fifo", "fifo_relaxed"}
var surfaceFormats = []string{"b8g8r8a8_unorm", "b8g8r8a8_srgb", "r8g8b8a8_unorm", "r8g8b8a8_srgb"}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:   "Vulkan Tutorial in Go",
			Width:  1024,
			Height: 780,
			PosX:   100,
			PosY:   100,
		},
		Renderer: RendererConfig{
			FramesInFlight:    2,
			DesiredImageCount: 3,
			FenceTimeout:      Duration(time.Second),
			AcquireTimeout:    Duration(time.Second),
			PresentMode:       "mailbox",
			SurfaceFormat:     "b8g8r8a8_unorm",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the TOML file at path on top of the defaults, then applies
// overrides from envFile (if it exists) and from the process environment, in
// that order of increasing precedence. An empty path yields the defaults.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	env := map[string]string{}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for _, k := range []string{EnvLogLevel, EnvPresentMode, EnvValidation, EnvDebug, EnvFramesFlight, EnvClearColor} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TUNDRA_* variables.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v, ok := env[EnvLogLevel]; ok {
		c.Log.Level = v
	}
	if v, ok := env[EnvPresentMode]; ok {
		c.Renderer.PresentMode = v
	}
	if v, ok := env[EnvClearColor]; ok {
		c.Renderer.ClearColor = v
	}
	if v, ok := env[EnvValidation]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvValidation, err)
		}
		c.Renderer.Validation = b
	}
	if v, ok := env[EnvDebug]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		c.Renderer.Debug = b
	}
	if v, ok := env[EnvFramesFlight]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFramesFlight, err)
		}
		c.Renderer.FramesInFlight = n
	}
	return nil
}

func (c *Config) Validate() error {
	r := c.Renderer
	if r.FramesInFlight < 1 || r.FramesInFlight > 8 {
		return fmt.Errorf("renderer.frames_in_flight must be in [1, 8], got %d", r.FramesInFlight)
	}
	if r.DesiredImageCount == 0 {
		return errors.New("renderer.desired_image_count must be positive")
	}
	if r.FenceTimeout <= 0 || r.AcquireTimeout <= 0 {
		return errors.New("renderer timeouts must be positive")
	}
	if !contains(presentModes, strings.ToLower(r.PresentMode)) {
		return fmt.Errorf("renderer.present_mode %q is not one of %v", r.PresentMode, presentModes)
	}
	if !contains(surfaceFormats, strings.ToLower(r.SurfaceFormat)) {
		return fmt.Errorf("renderer.surface_format %q is not one of %v", r.SurfaceFormat, surfaceFormats)
	}
	if _, err := c.ClearColorRGBA(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return errors.New("application width and height must be positive")
	}
	return nil
}

// ClearColorRGBA resolves renderer.clear_color. A nil result means no clear.
func (c *Config) ClearColorRGBA() (*color.RGBA, error) {
	name := strings.ToLower(strings.TrimSpace(c.Renderer.ClearColor))
	if name == "" {
		return nil, nil
	}
	rgba, ok := colornames.Map[name]
	if !ok {
		return nil, fmt.Errorf("renderer.clear_color %q is not a known color name", c.Renderer.ClearColor)
	}
	return &rgba, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
