package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/Zachkp/bond-site/internal/moex"
	"github.com/Zachkp/bond-site/internal/treemap"
)

// EnvPrefix marks environment overrides, e.g. BONDSITE_SERVER__PORT.
const EnvPrefix = "BONDSITE_"

type Config struct {
	Server  ServerConfig  `koanf:"server" yaml:"server"`
	Data    DataConfig    `koanf:"data" yaml:"data"`
	Treemap TreemapConfig `koanf:"treemap" yaml:"treemap"`
	MOEX    MOEXConfig    `koanf:"moex" yaml:"moex"`
	Admin   AdminConfig   `koanf:"admin" yaml:"admin"`
}

type ServerConfig struct {
	Port        string        `koanf:"port" yaml:"port"`
	NoticeDelay time.Duration `koanf:"notice_delay" yaml:"notice_delay"`
	Compress    bool          `koanf:"compress" yaml:"compress"`
}

type DataConfig struct {
	Path   string `koanf:"path" yaml:"path"`
	DBPath string `koanf:"db_path" yaml:"db_path"`
}

type TreemapConfig struct {
	PlotlyURL      string  `koanf:"plotly_url" yaml:"plotly_url"`
	LowPercentile  float64 `koanf:"low_percentile" yaml:"low_percentile"`
	HighPercentile float64 `koanf:"high_percentile" yaml:"high_percentile"`
	Gamma          float64 `koanf:"gamma" yaml:"gamma"`
	PNGWidth       int     `koanf:"png_width" yaml:"png_width"`
	PNGHeight      int     `koanf:"png_height" yaml:"png_height"`
}

type MOEXConfig struct {
	BaseURL         string        `koanf:"base_url" yaml:"base_url"`
	PageLimit       int           `koanf:"page_limit" yaml:"page_limit"`
	TopN            int           `koanf:"top_n" yaml:"top_n"`
	MaxYears        float64       `koanf:"max_years" yaml:"max_years"`
	ListLevel       int           `koanf:"list_level" yaml:"list_level"`
	RefreshInterval time.Duration `koanf:"refresh_interval" yaml:"refresh_interval"`
}

type AdminConfig struct {
	Username string `koanf:"username" yaml:"username"`
	Password string `koanf:"password" yaml:"password"`
}

func DefaultConfig() *Config {
	topts := treemap.DefaultOptions()
	fopts := moex.DefaultFilterOptions()
	return &Config{
		Server: ServerConfig{Port: "8080", NoticeDelay: 1600 * time.Millisecond, Compress: true},
		Data:   DataConfig{Path: "data/ytm_top20.json", DBPath: "data/site.db"},
		Treemap: TreemapConfig{
			PlotlyURL:      "https://cdn.plot.ly/plotly-2.35.2.min.js",
			LowPercentile:  topts.LowPercentile,
			HighPercentile: topts.HighPercentile,
			Gamma:          topts.Gamma,
			PNGWidth:       1200,
			PNGHeight:      700,
		},
		MOEX: MOEXConfig{
			BaseURL:   moex.DefaultBaseURL,
			PageLimit: moex.DefaultPageLimit,
			TopN:      fopts.TopN,
			MaxYears:  fopts.MaxYears,
			ListLevel: fopts.ListLevel,
		},
		Admin: AdminConfig{Username: "admin", Password: "admin123"},
	}
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (BONDSITE_*). A double underscore in a
// variable name separates nesting levels.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Data.Path == "" {
		return fmt.Errorf("data.path is required")
	}
	t := c.Treemap
	if t.LowPercentile < 0 || t.HighPercentile > 1 || t.LowPercentile >= t.HighPercentile {
		return fmt.Errorf("treemap percentiles must satisfy 0 <= low < high <= 1, got %g and %g", t.LowPercentile, t.HighPercentile)
	}
	if t.Gamma <= 0 {
		return fmt.Errorf("treemap.gamma must be positive")
	}
	if c.MOEX.TopN <= 0 {
		return fmt.Errorf("moex.top_n must be positive")
	}
	if c.MOEX.MaxYears <= 0 {
		return fmt.Errorf("moex.max_years must be positive")
	}
	if c.MOEX.RefreshInterval < 0 {
		return fmt.Errorf("moex.refresh_interval must be non-negative")
	}
	return nil
}

// TreemapOptions converts the tuning knobs for the renderer.
func (c *Config) TreemapOptions() treemap.Options {
	o := treemap.DefaultOptions()
	o.LowPercentile = c.Treemap.LowPercentile
	o.HighPercentile = c.Treemap.HighPercentile
	o.Gamma = c.Treemap.Gamma
	return o
}

// FilterOptions converts the builder knobs.
func (c *Config) FilterOptions() moex.FilterOptions {
	return moex.FilterOptions{TopN: c.MOEX.TopN, MaxYears: c.MOEX.MaxYears, ListLevel: c.MOEX.ListLevel}
}
