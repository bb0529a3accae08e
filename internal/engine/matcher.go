package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var two = decimal.NewFromInt(2)

type Matcher struct {
	book *OrderBook
	log  *zap.SugaredLogger
}

func NewMatcher(book *OrderBook, log *zap.SugaredLogger) *Matcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Matcher{book: book, log: log}
}

// MatchRound crosses the book until best bid < best ask or a side empties.
// Each match trades min(remaining) at the bid/ask midpoint rounded to
// cents, so ask <= trade price <= bid always holds. Orders whose owner can
// no longer settle are cancelled and matching continues; this cannot fire
// under one-order-per-agent-per-round but keeps the loop safe if a caller
// relaxes that rule.
func (m *Matcher) MatchRound(round int, agents map[string]*Agent) []*Trade {
	trades := make([]*Trade, 0)

	for {
		b := m.book.BestBuy()
		s := m.book.BestSell()
		if b == nil || s == nil {
			break
		}
		if b.Price.LessThan(s.Price) {
			break
		}

		qty := min(b.Remaining, s.Remaining)
		price := b.Price.Add(s.Price).Div(two).Round(2)

		buyer, ok := agents[b.AgentID]
		if !ok || !buyer.CanBuy(qty, price) {
			m.log.Warnw("buy order cannot settle, cancelling",
				"order_id", b.ID, "agent", b.AgentID, "quantity", qty, "price", price)
			_ = m.book.Remove(b.ID)
			continue
		}
		seller, ok := agents[s.AgentID]
		if !ok || !seller.CanSell(qty) {
			m.log.Warnw("sell order cannot settle, cancelling",
				"order_id", s.ID, "agent", s.AgentID, "quantity", qty)
			_ = m.book.Remove(s.ID)
			continue
		}

		trades = append(trades, &Trade{
			ID:         uuid.NewString(),
			Round:      round,
			BuyerID:    b.AgentID,
			SellerID:   s.AgentID,
			Quantity:   qty,
			Price:      price,
			ExecutedAt: time.Now(),
		})

		m.book.fill(b, qty)
		m.book.fill(s, qty)
	}

	return trades
}
