// Package config reads the YAML settings file shared by all binaries.
package config

import (
	"github.com/denismitr/respimg/internal/media"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"os"
	"strings"
	"time"
)

var ErrInvalidSettings = errors.New("invalid settings")

const (
	RegistryFS    = "fs"
	RegistryMongo = "mongo"
)

type Settings struct {
	// SiteRoot is the directory src URLs are resolved against
	SiteRoot string `yaml:"site_root"`
	// BaseURL is stripped from absolute src URLs
	BaseURL string `yaml:"base_url"`
	// MediaDir is the media root, relative to SiteRoot
	MediaDir string `yaml:"media_dir"`
	// CacheDir holds the derivative directories, relative to SiteRoot. Defaults to MediaDir.
	CacheDir    string             `yaml:"cache_dir"`
	Quality     int                `yaml:"quality"`
	ScaleUp     bool               `yaml:"scale_up"`
	Breakpoints []int              `yaml:"breakpoints"`
	Backend     string             `yaml:"backend"`
	MemoryLimit string             `yaml:"memory_limit"`
	Staleness   string             `yaml:"staleness"`
	Registry    string             `yaml:"registry"`
	Mirror      bool               `yaml:"mirror"`
	LogLevel    string             `yaml:"log_level"`
	Proxy       ProxySettings      `yaml:"proxy"`
	Backoffice  BackofficeSettings `yaml:"backoffice"`
	Watcher     WatcherSettings    `yaml:"watcher"`
}

type ProxySettings struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type BackofficeSettings struct {
	Port string `yaml:"port"`
}

type WatcherSettings struct {
	Debounce time.Duration `yaml:"debounce"`
}

func Default() *Settings {
	return &Settings{
		MediaDir:    "images",
		Quality:     media.DefaultQuality,
		Breakpoints: append([]int{}, media.DefaultBreakpoints...),
		Backend:     "auto",
		Staleness:   "never",
		Registry:    RegistryFS,
		LogLevel:    "info",
		Proxy: ProxySettings{
			Port:         ":3333",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Backoffice: BackofficeSettings{Port: ":3334"},
		Watcher:    WatcherSettings{Debounce: 500 * time.Millisecond},
	}
}

// Load reads the settings file at path, an empty path yields the defaults
func Load(path string) (*Settings, error) {
	if path == "" {
		s := Default()
		return s, s.normalize()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidSettings, "could not read %s: %v", path, err)
	}

	return Parse(data)
}

// Parse decodes settings over the defaults
func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(ErrInvalidSettings, "could not parse: %v", err)
	}

	if err := s.normalize(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Settings) normalize() error {
	if s.Quality == 0 {
		s.Quality = media.DefaultQuality
	}

	if s.Quality < 1 || s.Quality > 100 {
		return errors.Wrapf(ErrInvalidSettings, "quality must be within 1..100, got %d", s.Quality)
	}

	for _, bp := range s.Breakpoints {
		if bp <= 0 {
			return errors.Wrapf(ErrInvalidSettings, "breakpoints must be positive, got %d", bp)
		}
	}

	s.Breakpoints = media.Breakpoints(s.Breakpoints).Normalize()
	if len(s.Breakpoints) == 0 {
		s.Breakpoints = append([]int{}, media.DefaultBreakpoints...)
	}

	if s.CacheDir == "" {
		s.CacheDir = s.MediaDir
	}

	s.Registry = strings.ToLower(s.Registry)
	if s.Registry != RegistryFS && s.Registry != RegistryMongo {
		return errors.Wrapf(ErrInvalidSettings, "registry must be fs or mongo, got %s", s.Registry)
	}

	return nil
}

// Layout canonicalizes the configured directories
func (s *Settings) Layout() (media.Layout, error) {
	if s.SiteRoot == "" {
		return media.Layout{}, errors.Wrap(ErrInvalidSettings, "site_root is required")
	}

	return media.NewLayout(s.SiteRoot, s.MediaDir, s.CacheDir, s.BaseURL)
}

func (s *Settings) BreakpointList() media.Breakpoints {
	return media.Breakpoints(s.Breakpoints)
}
