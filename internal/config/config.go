package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"multicam/internal/fourcc"
	"multicam/internal/logger"
)

// CameraConfig describes one capture device entry. Everything past
// Device is optional; omitted values fall back to the system-wide size
// and ultimately to whatever the driver negotiates.
type CameraConfig struct {
	Device string `json:"device" yaml:"device"`
	Width  int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height int    `json:"height,omitempty" yaml:"height,omitempty"`
	FPS    int    `json:"fps,omitempty" yaml:"fps,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // FOURCC, e.g. "YUYV"
}

// Config represents the application configuration
type Config struct {
	// Common output size shared by every camera in a batch
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	Cameras []CameraConfig `json:"cameras" yaml:"cameras"`

	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	// Set default configuration path
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "multicam")
	defaultConfigPath := filepath.Join(configDir, "config.yaml")

	// Use provided config file or default
	actualConfigPath := defaultConfigPath
	if configFile != "" {
		actualConfigPath = configFile
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	// Try to read config file
	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			// Config file not found, create it with defaults
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("cameras", len(m.config.Cameras)).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	return &Config{
		Width:  640,
		Height: 480,
		Cameras: []CameraConfig{
			{Device: "/dev/video0"},
		},
		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Cameras == nil {
		cfg.Cameras = []CameraConfig{}
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = 8080
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Cameras without an explicit size capture at the common size
	for i := range cfg.Cameras {
		if cfg.Cameras[i].Width == 0 {
			cfg.Cameras[i].Width = cfg.Width
		}
		if cfg.Cameras[i].Height == 0 {
			cfg.Cameras[i].Height = cfg.Height
		}
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Validate rejects configurations the capture core would fail on:
// camera entries without a device path and format codes that are not
// exactly 4 characters.
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, cam := range m.config.Cameras {
		if cam.Device == "" {
			return fmt.Errorf("camera %d has no device path", i)
		}
		if cam.Format != "" {
			if _, err := fourcc.Parse(cam.Format); err != nil {
				return fmt.Errorf("camera %d: %w", i, err)
			}
		}
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	cfg.Cameras = make([]CameraConfig, len(m.config.Cameras))
	copy(cfg.Cameras, m.config.Cameras)
	return &cfg
}

// GetConfigPath returns the path of the loaded config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// SetPort overrides the server port
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ServerPort = port
}

// SetLogLevel overrides the log level
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.LogLevel = level
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}
