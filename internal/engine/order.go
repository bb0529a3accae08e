package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
	}
}

// Role is descriptive metadata on an agent. The engine never branches on it;
// role- and personality-driven behavior lives in the decision provider.
type Role string

const (
	RoleBuyer       Role = "buyer"
	RoleSeller      Role = "seller"
	RoleMarketMaker Role = "market_maker"
)

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buyer":
		return RoleBuyer, nil
	case "seller":
		return RoleSeller, nil
	case "market_maker", "marketmaker":
		return RoleMarketMaker, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type Order struct {
	ID        string
	AgentID   string
	Side      Side
	Price     decimal.Decimal
	Quantity  int64 // original quantity
	Remaining int64 // unfilled
	Round     int   // round submitted
	Seq       int64 // book insertion sequence, for time priority
	CreatedAt time.Time
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %d @ $%s (agent: %s)", o.Side, o.Remaining, o.Price.StringFixed(2), o.AgentID)
}

// Trade is an executed match. Immutable once appended to the history.
type Trade struct {
	ID         string          `json:"id"`
	Round      int             `json:"round"`
	BuyerID    string          `json:"buyer_id"`
	SellerID   string          `json:"seller_id"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Seq        int64           `json:"seq"`
	ExecutedAt time.Time       `json:"executed_at"`
}

func (t *Trade) String() string {
	return fmt.Sprintf("Round %d: %s bought %d from %s @ $%s",
		t.Round, t.BuyerID, t.Quantity, t.SellerID, t.Price.StringFixed(2))
}

// Value is the cash that changed hands: price * quantity.
func (t *Trade) Value() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
