package bot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Difficulty selects a search preset.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
	Expert Difficulty = "expert"
)

// ParseDifficulty normalizes user input; unknown values fall back to Easy-like
// behavior at lookup time, so the raw value is kept for logging.
func ParseDifficulty(v string) Difficulty {
	return Difficulty(strings.ToLower(strings.TrimSpace(v)))
}

// Preset tunes the search for one difficulty.
type Preset struct {
	// Depth in plies. One ply is a single side's move.
	Depth int `yaml:"depth"`
	// BlunderRate is the probability of discarding the computed best move
	// for a uniformly random legal one.
	BlunderRate float64 `yaml:"blunder_rate"`
	// ThinkDelayMS is the cosmetic delay before the move is published.
	ThinkDelayMS int `yaml:"think_delay_ms"`
	// MaxCandidates caps the shuffled root move list; 0 means unlimited.
	MaxCandidates int `yaml:"max_candidates"`
}

// ThinkDelay returns the publishing delay as a duration.
func (p Preset) ThinkDelay() time.Duration {
	return time.Duration(p.ThinkDelayMS) * time.Millisecond
}

func builtinPresets() map[Difficulty]Preset {
	return map[Difficulty]Preset{
		Easy:   {Depth: 1, BlunderRate: 0.4, ThinkDelayMS: 300},
		Medium: {Depth: 1, BlunderRate: 0.15, ThinkDelayMS: 500},
		Hard:   {Depth: 2, ThinkDelayMS: 700},
		Expert: {Depth: 2, ThinkDelayMS: 900, MaxCandidates: 20},
	}
}

// Presets holds the difficulty table, optionally overridden from a directory
// of YAML files mapping difficulty names to preset fields.
type Presets struct {
	mu   sync.RWMutex
	data map[Difficulty]Preset
}

// DefaultPresets returns the built-in difficulty table.
func DefaultPresets() *Presets {
	return &Presets{data: builtinPresets()}
}

// ApplyDir overlays presets from *.yaml/*.yml files in dir, in name order.
func (p *Presets) ApplyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read presets dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		var overlay map[Difficulty]Preset
		if err := yaml.Unmarshal(b, &overlay); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		p.mu.Lock()
		for k, v := range overlay {
			p.data[ParseDifficulty(string(k))] = v
		}
		p.mu.Unlock()
	}
	return nil
}

// For returns the preset for a difficulty. Unknown difficulties search a
// single ply without blunders.
func (p *Presets) For(d Difficulty) Preset {
	p.mu.RLock()
	preset, ok := p.data[d]
	p.mu.RUnlock()
	if !ok {
		return Preset{Depth: 1, ThinkDelayMS: 300}
	}
	if preset.Depth <= 0 {
		preset.Depth = 1
	}
	return preset
}
