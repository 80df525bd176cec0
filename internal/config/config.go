package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Market           string                   `yaml:"market"`
	API              API                      `yaml:"api"`
	RateLimit        RateLimit                `yaml:"ratelimit"`
	Generation       Generation               `yaml:"generation"`
	Creative         Creative                 `yaml:"creative"`
	Evaluation       Evaluation               `yaml:"evaluation"`
	Dedup            Dedup                    `yaml:"dedup"`
	Embeddings       Embeddings               `yaml:"embeddings"`
	Evidence         Evidence                 `yaml:"evidence"`
	InsightTemplates []InsightTemplate        `yaml:"insight_templates"`
	HealthDomains    []HealthDomain           `yaml:"health_domains"`
	Markets          map[string]MarketCatalog `yaml:"markets"`
	Output           Output                   `yaml:"output"`
	Server           Server                   `yaml:"server"`
}

type API struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	Referer        string `yaml:"referer"`
	OllamaURL      string `yaml:"ollama_url"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerSecond int `yaml:"requests_per_second"`
}

type Generation struct {
	Models          []string `yaml:"models"`
	InsightsPerCall int      `yaml:"insights_per_call"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	Temperature     float64  `yaml:"temperature"`
	MaxTokens       int      `yaml:"max_tokens"`
}

type Creative struct {
	Model         string  `yaml:"model"`
	NumVariations int     `yaml:"num_variations"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	Temperature   float64 `yaml:"temperature"`
}

type Evaluation struct {
	Model         string  `yaml:"model"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	Temperature   float64 `yaml:"temperature"`
}

type Dedup struct {
	Threshold  float64      `yaml:"threshold"`
	GreedyRuns int          `yaml:"greedy_runs"`
	Seed       int64        `yaml:"seed"`
	Weights    DedupWeights `yaml:"weights"`
}

type DedupWeights struct {
	Hook        float64 `yaml:"hook"`
	Explanation float64 `yaml:"explanation"`
	Action      float64 `yaml:"action"`
}

type Embeddings struct {
	Provider    string `yaml:"provider"`
	OllamaURL   string `yaml:"ollama_url"`
	Model       string `yaml:"model"`
	GeminiModel string `yaml:"gemini_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	CacheSize   int    `yaml:"cache_size"`
}

type Evidence struct {
	Email      string `yaml:"email"`
	APIKeyEnv  string `yaml:"api_key_env"`
	MaxResults int    `yaml:"max_results"`
	MinYear    int    `yaml:"min_year"`
	Feeds      []Feed `yaml:"feeds"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Output struct {
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

// Cohort is one demographic segment from a market catalog. IDs are
// assigned by Cohorts() in priority order, not stored in YAML.
type Cohort struct {
	ID            string            `yaml:"-" json:"cohort_id"`
	Name          string            `yaml:"name" json:"name"`
	Description   string            `yaml:"description" json:"description"`
	Rationale     string            `yaml:"rationale,omitempty" json:"rationale,omitempty"`
	PriorityLevel int               `yaml:"priority_level" json:"priority_level"`
	Dimensions    map[string]string `yaml:"dimensions" json:"dimensions"`
	InsightAngles []string          `yaml:"insight_angles,omitempty" json:"insight_angles,omitempty"`
}

// InsightTemplate is a named generation strategy. Weight biases sampling
// when a run limits how many templates it uses.
type InsightTemplate struct {
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description"`
	Tone        string `yaml:"tone" json:"tone"`
	Example     string `yaml:"example" json:"example"`
	Weight      int    `yaml:"weight" json:"weight"`
}

type HealthDomain struct {
	Name          string   `yaml:"name" json:"name"`
	Subcategories []string `yaml:"subcategories" json:"subcategories"`
}

type MarketCatalog struct {
	Cohorts []Cohort     `yaml:"cohorts"`
	Sources []SourceTier `yaml:"sources"`
}

type SourceTier struct {
	Tier    string   `yaml:"tier"`
	Sources []Source `yaml:"sources"`
}

type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url,omitempty"`
}

// ConfigDir returns the XDG config directory for dyk.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "dyk")
}

// DataDir returns the XDG data directory for dyk.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "dyk")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/dyk/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'dyk init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// LoadDefault parses the embedded default configuration.
func LoadDefault() (*Config, error) {
	return parse(DefaultConfigYAML)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Market: "singapore",
		API: API{
			Provider:       "openrouter",
			BaseURL:        "https://openrouter.ai/api/v1",
			Referer:        "https://github.com/geniehealth/dyk",
			OllamaURL:      "http://localhost:11434",
			Model:          "google/gemini-2.5-flash",
			APIKeyEnv:      "OPENROUTER_API_KEY",
			MaxRetries:     3,
			TimeoutSeconds: 60,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: 60,
			RequestsPerSecond: 10,
		},
		Generation: Generation{
			InsightsPerCall: 5,
			MaxConcurrent:   10,
			Temperature:     0.7,
			MaxTokens:       4000,
		},
		Creative: Creative{
			Model:         "google/gemini-2.5-flash",
			NumVariations: 3,
			MaxConcurrent: 15,
			Temperature:   0.8,
		},
		Evaluation: Evaluation{
			Model:         "google/gemini-2.5-flash",
			MaxConcurrent: 20,
			Temperature:   0.3,
		},
		Dedup: Dedup{
			Threshold:  0.85,
			GreedyRuns: 10,
			Seed:       42,
			Weights:    DedupWeights{Hook: 0.4, Explanation: 0.2, Action: 0.4},
		},
		Embeddings: Embeddings{
			Provider:    "ollama",
			OllamaURL:   "http://localhost:11434",
			Model:       "nomic-embed-text",
			GeminiModel: "gemini-embedding-001",
			APIKeyEnv:   "GEMINI_API_KEY",
			CacheSize:   10000,
		},
		Evidence: Evidence{
			APIKeyEnv:  "PUBMED_API_KEY",
			MaxResults: 5,
			MinYear:    2015,
		},
		Server: Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.Generation.Models) == 0 {
		cfg.Generation.Models = []string{cfg.API.Model}
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetOutputDir returns the directory run artifacts are written to.
func (c *Config) GetOutputDir() string {
	if c.Output.OutputDir != "" {
		return c.Output.OutputDir
	}
	return filepath.Join(c.GetDataDir(), "output")
}

// MarketCatalog returns the catalog for a market name.
func (c *Config) MarketCatalog(market string) (MarketCatalog, error) {
	cat, ok := c.Markets[market]
	if !ok {
		return MarketCatalog{}, fmt.Errorf("unknown market %q: not present in config", market)
	}
	return cat, nil
}

// Cohorts returns the market's cohorts sorted by ascending priority level,
// with cohort IDs assigned in that order.
func (c *Config) Cohorts(market string) ([]Cohort, error) {
	cat, err := c.MarketCatalog(market)
	if err != nil {
		return nil, err
	}
	if len(cat.Cohorts) == 0 {
		return nil, fmt.Errorf("market %q has no cohorts configured", market)
	}

	cohorts := make([]Cohort, len(cat.Cohorts))
	copy(cohorts, cat.Cohorts)
	sort.SliceStable(cohorts, func(i, j int) bool {
		return cohorts[i].PriorityLevel < cohorts[j].PriorityLevel
	})
	for i := range cohorts {
		cohorts[i].ID = fmt.Sprintf("cohort_%04d", i+1)
	}
	return cohorts, nil
}

// SourceNames maps tier name to the source names within it, for prompts.
func (m MarketCatalog) SourceNames() map[string][]string {
	names := make(map[string][]string, len(m.Sources))
	for _, tier := range m.Sources {
		for _, src := range tier.Sources {
			names[tier.Tier] = append(names[tier.Tier], src.Name)
		}
	}
	return names
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
