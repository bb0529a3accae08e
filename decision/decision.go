// Package decision abstracts how agents choose what to do each round.
// The engine only ever sees the Decision value; whether it came from a
// script, a human, or a language model is opaque.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"agora/internal/engine"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Decision is one agent's choice for one round. Quantity and Price are
// meaningful only when Action is buy or sell.
type Decision struct {
	Action    Action          `json:"action"`
	Quantity  int64           `json:"quantity,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// Hold is the safe default: submit nothing this round.
func Hold() Decision { return Decision{Action: ActionHold} }

// ErrParse marks responses that could not be turned into a Decision.
// Callers degrade to Hold, never fail the round.
var ErrParse = errors.New("unparseable decision")

// Provider supplies one decision per agent per round. Implementations may
// be slow (a remote model call); the caller treats failure as HOLD.
type Provider interface {
	Decide(ctx context.Context, agent engine.AgentState, summary engine.Summary) (Decision, error)
}

type rawDecision struct {
	Action    string      `json:"action"`
	Quantity  json.Number `json:"quantity"`
	Price     json.Number `json:"price"`
	Reasoning string      `json:"reasoning"`
}

// Parse extracts a Decision from free-form model output. Anything around
// the first {...} span is ignored; models love to narrate.
func Parse(text string) (Decision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Hold(), fmt.Errorf("%w: no JSON object in response", ErrParse)
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Hold(), fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch Action(strings.ToLower(strings.TrimSpace(raw.Action))) {
	case ActionHold:
		return Decision{Action: ActionHold, Reasoning: raw.Reasoning}, nil
	case ActionBuy, ActionSell:
		// fall through to quantity/price validation below
	default:
		return Hold(), fmt.Errorf("%w: unknown action %q", ErrParse, raw.Action)
	}

	qty, err := raw.Quantity.Int64()
	if err != nil || qty <= 0 {
		return Hold(), fmt.Errorf("%w: quantity %q must be a positive integer", ErrParse, raw.Quantity)
	}
	price, err := decimal.NewFromString(raw.Price.String())
	if err != nil || !price.IsPositive() {
		return Hold(), fmt.Errorf("%w: price %q must be a positive number", ErrParse, raw.Price)
	}

	return Decision{
		Action:    Action(strings.ToLower(raw.Action)),
		Quantity:  qty,
		Price:     price,
		Reasoning: raw.Reasoning,
	}, nil
}

// Scripted replays a fixed per-agent sequence of decisions, holding once a
// script runs out. Used for deterministic tests and offline runs.
type Scripted struct {
	mu    sync.Mutex
	steps map[string][]Decision
}

func NewScripted() *Scripted {
	return &Scripted{steps: make(map[string][]Decision)}
}

// Add appends decisions to an agent's script.
func (s *Scripted) Add(agentID string, decisions ...Decision) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[agentID] = append(s.steps[agentID], decisions...)
	return s
}

func (s *Scripted) Decide(_ context.Context, agent engine.AgentState, _ engine.Summary) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.steps[agent.ID]
	if len(queue) == 0 {
		return Hold(), nil
	}
	next := queue[0]
	s.steps[agent.ID] = queue[1:]
	return next, nil
}
