package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Agent owns money and inventory and a history of its fills. Balances are
// mutated only through RecordTrade; orders are validated against current
// balances at submission time (no escrow is held, see Market.Submit).
type Agent struct {
	ID          string
	Role        Role
	Money       decimal.Decimal
	Inventory   int64
	Personality string

	history []*Trade
}

func NewAgent(id string, role Role, money decimal.Decimal, inventory int64, personality string) *Agent {
	return &Agent{
		ID:          id,
		Role:        role,
		Money:       money,
		Inventory:   inventory,
		Personality: personality,
	}
}

// CanBuy reports whether the agent can afford quantity units at price.
func (a *Agent) CanBuy(quantity int64, price decimal.Decimal) bool {
	total := price.Mul(decimal.NewFromInt(quantity))
	return a.Money.GreaterThanOrEqual(total)
}

// CanSell reports whether the agent holds at least quantity units.
func (a *Agent) CanSell(quantity int64) bool {
	return a.Inventory >= quantity
}

// SubmitOrder validates funds/inventory and constructs an Order for the
// given round. The order is never created on rejection; balances are not
// reserved (check at submission, settle at match).
func (a *Agent) SubmitOrder(side Side, quantity int64, price decimal.Decimal, round int) (*Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if !price.Equal(price.Round(2)) {
		return nil, fmt.Errorf("%w: price %s is finer than cents", ErrInvalidOrder, price)
	}
	switch side {
	case SideBuy:
		if !a.CanBuy(quantity, price) {
			return nil, fmt.Errorf("%w: %s cannot afford %d @ $%s (has $%s)",
				ErrInsufficientResources, a.ID, quantity, price.StringFixed(2), a.Money.StringFixed(2))
		}
	case SideSell:
		if !a.CanSell(quantity) {
			return nil, fmt.Errorf("%w: %s has %d units, wants to sell %d",
				ErrInsufficientResources, a.ID, a.Inventory, quantity)
		}
	default:
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}

	return &Order{
		ID:        uuid.NewString(),
		AgentID:   a.ID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		Round:     round,
		CreatedAt: time.Now(),
	}, nil
}

// RecordTrade settles one side of a trade against the agent's balances and
// appends it to the history. This is the only path that mutates balances.
func (a *Agent) RecordTrade(t *Trade) {
	switch a.ID {
	case t.BuyerID:
		a.Money = a.Money.Sub(t.Value())
		a.Inventory += t.Quantity
	case t.SellerID:
		a.Money = a.Money.Add(t.Value())
		a.Inventory -= t.Quantity
	default:
		return
	}
	a.history = append(a.history, t)
}

// History returns a copy of the agent's fills, oldest first.
func (a *Agent) History() []*Trade {
	out := make([]*Trade, len(a.history))
	copy(out, a.history)
	return out
}

// Fill is one of the agent's own executions, seen from its side.
type Fill struct {
	Bought   bool            `json:"bought"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// AgentState is a read-only projection of the agent for display and for
// decision providers. It carries no references into engine state.
type AgentState struct {
	ID             string           `json:"agent_id"`
	Role           Role             `json:"role"`
	Money          decimal.Decimal  `json:"money"`
	Inventory      int64            `json:"inventory"`
	Personality    string           `json:"personality,omitempty"`
	RecentFills    []Fill           `json:"recent_fills,omitempty"`
	AvgRecentPrice *decimal.Decimal `json:"avg_recent_price,omitempty"`
	TotalTrades    int              `json:"total_trades"`
}

const recentFillWindow = 3

// StateSummary projects the agent's current state plus its last few fills.
func (a *Agent) StateSummary() AgentState {
	st := AgentState{
		ID:          a.ID,
		Role:        a.Role,
		Money:       a.Money.Round(2),
		Inventory:   a.Inventory,
		Personality: a.Personality,
		TotalTrades: len(a.history),
	}

	start := len(a.history) - recentFillWindow
	if start < 0 {
		start = 0
	}
	recent := a.history[start:]
	if len(recent) == 0 {
		return st
	}

	sum := decimal.Zero
	for _, t := range recent {
		st.RecentFills = append(st.RecentFills, Fill{
			Bought:   t.BuyerID == a.ID,
			Quantity: t.Quantity,
			Price:    t.Price,
		})
		sum = sum.Add(t.Price)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(recent)))).Round(2)
	st.AvgRecentPrice = &avg
	return st
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent(%s, role=%s, money=$%s, inventory=%d)",
		a.ID, a.Role, a.Money.StringFixed(2), a.Inventory)
}
