// Package config loads the simulation setup: the commodity, the round
// schedule, and the cast of agents. Priority: environment > YAML file >
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"agora/internal/engine"
)

type AgentSeed struct {
	ID          string  `yaml:"id"`
	Role        string  `yaml:"role"`
	Money       float64 `yaml:"money"`
	Inventory   int64   `yaml:"inventory"`
	Personality string  `yaml:"personality"`
}

// Duration lets YAML carry "250ms"-style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Commodity     string      `yaml:"commodity"`
	Rounds        int         `yaml:"rounds"`
	Window        int         `yaml:"window"`         // moving-average window, in trades
	RoundInterval Duration    `yaml:"round_interval"` // server mode: delay between rounds
	Model         string      `yaml:"model"`          // Anthropic model id
	Agents        []AgentSeed `yaml:"agents"`
}

// Default is the built-in four-agent wheat market.
func Default() Config {
	return Config{
		Commodity:     "wheat",
		Rounds:        5,
		Window:        engine.DefaultWindow,
		RoundInterval: Duration(5 * time.Second),
		Agents: []AgentSeed{
			{
				ID: "alice", Role: "seller", Money: 100, Inventory: 50,
				Personality: "Conservative seller who values steady profits over quick sales. Prefers to wait for good prices.",
			},
			{
				ID: "bob", Role: "buyer", Money: 500, Inventory: 0,
				Personality: "Strategic buyer looking for good deals. Will hold if prices seem too high.",
			},
			{
				ID: "charlie", Role: "seller", Money: 150, Inventory: 40,
				Personality: "Aggressive seller who wants to move inventory quickly, even at lower prices.",
			},
			{
				ID: "diana", Role: "buyer", Money: 400, Inventory: 0,
				Personality: "Eager buyer with strong demand. Willing to pay premium prices to secure inventory.",
			},
		},
	}
}

// Load reads a YAML config over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SIM_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Rounds = n
		}
	}
	if v := os.Getenv("SIM_COMMODITY"); v != "" {
		cfg.Commodity = v
	}
	if v := os.Getenv("ROUND_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.RoundInterval = Duration(time.Duration(ms) * time.Millisecond)
		}
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.Model = v
	}
}

func (c Config) validate() error {
	if c.Rounds <= 0 {
		return fmt.Errorf("config: rounds must be positive, got %d", c.Rounds)
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if _, err := engine.ParseRole(a.Role); err != nil {
			return fmt.Errorf("config: agent %s: %w", a.ID, err)
		}
		if a.Money < 0 || a.Inventory < 0 {
			return fmt.Errorf("config: agent %s: money and inventory must be non-negative", a.ID)
		}
	}
	return nil
}

// BuildAgents turns the seeds into engine agents.
func (c Config) BuildAgents() ([]*engine.Agent, error) {
	agents := make([]*engine.Agent, 0, len(c.Agents))
	for _, seed := range c.Agents {
		role, err := engine.ParseRole(seed.Role)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", seed.ID, err)
		}
		money := decimal.NewFromFloat(seed.Money).Round(2)
		agents = append(agents, engine.NewAgent(seed.ID, role, money, seed.Inventory, seed.Personality))
	}
	return agents, nil
}
