package strategist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/strategist/internal/memory"
	"github.com/hazyhaar/strategist/internal/oracle"
)

// Config configures a Strategist. All knobs are explicit values handed to
// New; nothing reads the environment or process-wide state.
type Config struct {
	// Chunking parameters
	ChunkTargetSize int `yaml:"chunk_target_size"` // bytes of content per chunk
	OverlapHint     int `yaml:"overlap_hint"`      // tokens of context echoed forward
	MaxLookAhead    int `yaml:"max_look_ahead"`    // bytes of safe-cut search past target

	// ConfidenceThreshold filters patterns offered to schema synthesis.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Memory merge and compression settings
	Memory memory.Config `yaml:"memory"`

	// Oracle gateway retry budgets
	Oracle oracle.Config `yaml:"oracle"`

	// Client settings for the bundled HTTP oracle caller (only used by
	// cmd/strategist; library callers inject their own Caller).
	Client oracle.ClientConfig `yaml:"client"`

	// DBPath enables schema persistence when non-empty.
	DBPath string `yaml:"db_path"`

	// Listen is the HTTP API bind address (cmd only).
	Listen string `yaml:"listen"`
}

func (c *Config) defaults() {
	if c.ChunkTargetSize <= 0 {
		c.ChunkTargetSize = 2000
	}
	if c.OverlapHint <= 0 {
		c.OverlapHint = 100
	}
	if c.MaxLookAhead <= 0 {
		c.MaxLookAhead = 2048
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.8
	}
	// The controller reads the compression trigger directly; the memory
	// engine defaults the rest of its own knobs.
	if c.Memory.CompressionThreshold <= 0 {
		c.Memory.CompressionThreshold = 50
	}
	if c.Listen == "" {
		c.Listen = ":8780"
	}
}

// LoadConfig reads a YAML config file and applies defaults. A missing path
// returns the defaults alone.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("strategist: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("strategist: parse config: %w", err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
