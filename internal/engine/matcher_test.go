package engine

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestAgent(id string, money float64, inventory int64) *Agent {
	return NewAgent(id, RoleMarketMaker, decimal.NewFromFloat(money), inventory, "")
}

func testAgents(agents ...*Agent) map[string]*Agent {
	m := make(map[string]*Agent, len(agents))
	for _, a := range agents {
		m[a.ID] = a
	}
	return m
}

func TestFullFill(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob, nil)
	agents := testAgents(newTestAgent("buyer", 1000, 0), newTestAgent("seller", 0, 10))

	ob.Insert(newTestOrder("s1", "seller", SideSell, 100, 1))
	ob.Insert(newTestOrder("b1", "buyer", SideBuy, 100, 1))

	trades := m.MatchRound(1, agents)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Quantity != 1 || !tr.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected trade: %+v", tr)
	}
	if tr.BuyerID != "buyer" || tr.SellerID != "seller" {
		t.Fatalf("unexpected parties: %+v", tr)
	}
	if len(ob.ordersByID) != 0 {
		t.Fatalf("expected empty book after full fill")
	}
}

// BUY 15 @ 12 against SELL 10 @ 11 yields exactly
// one trade of 10 at the 11.50 midpoint and a residual buy of 5 @ 12.
func TestPartialFill(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob, nil)
	agents := testAgents(newTestAgent("buyer", 500, 0), newTestAgent("seller", 0, 10))

	ob.Insert(newTestOrder("b1", "buyer", SideBuy, 12, 15))
	ob.Insert(newTestOrder("s1", "seller", SideSell, 11, 10))

	trades := m.MatchRound(1, agents)
	if len(trades) != 1 {
		t.Fatalf("expected exactly 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Quantity != 10 {
		t.Fatalf("expected quantity 10, got %d", tr.Quantity)
	}
	if !tr.Price.Equal(decimal.NewFromFloat(11.5)) {
		t.Fatalf("expected midpoint 11.50, got %s", tr.Price)
	}

	residual := ob.BestBuy()
	if residual == nil || residual.ID != "b1" || residual.Remaining != 5 {
		t.Fatalf("expected residual buy of 5, got %+v", residual)
	}
	if _, ok := ob.ordersByID["s1"]; ok {
		t.Fatalf("filled sell order must leave the book")
	}
}

func TestNoCrossNoTrades(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob, nil)
	agents := testAgents(newTestAgent("buyer", 1000, 0), newTestAgent("seller", 0, 10))

	ob.Insert(newTestOrder("b1", "buyer", SideBuy, 10, 1))
	ob.Insert(newTestOrder("s1", "seller", SideSell, 12, 1))

	trades := m.MatchRound(1, agents)
	if len(trades) != 0 {
		t.Fatalf("expected no trades when best buy < best sell, got %d", len(trades))
	}
	if ob.PendingBuys() != 1 || ob.PendingSells() != 1 {
		t.Fatalf("both orders should still rest")
	}
}

func TestFIFOTieBreak(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob, nil)
	agents := testAgents(
		newTestAgent("buyer", 1000, 0),
		newTestAgent("early", 0, 5),
		newTestAgent("late", 0, 5),
	)

	ob.Insert(newTestOrder("s-early", "early", SideSell, 10, 5))
	ob.Insert(newTestOrder("s-late", "late", SideSell, 10, 5))
	ob.Insert(newTestOrder("b1", "buyer", SideBuy, 10, 5))

	trades := m.MatchRound(1, agents)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].SellerID != "early" {
		t.Fatalf("expected earlier sell order to match first, got %s", trades[0].SellerID)
	}
	if _, ok := ob.ordersByID["s-late"]; !ok {
		t.Fatalf("later order should still rest")
	}
}

func TestPriceBetweenBidAndAsk(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob, nil)
	agents := testAgents(newTestAgent("buyer", 1000, 0), newTestAgent("seller", 0, 10))

	bid := decimal.NewFromFloat(12.37)
	ask := decimal.NewFromFloat(10.11)
	ob.Insert(&Order{ID: "b1", AgentID: "buyer", Side: SideBuy, Price: bid, Quantity: 3, Remaining: 3})
	ob.Insert(&Order{ID: "s1", AgentID: "seller", Side: SideSell, Price: ask, Quantity: 3, Remaining: 3})

	trades := m.MatchRound(1, agents)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	p := trades[0].Price
	if p.LessThan(ask) || p.GreaterThan(bid) {
		t.Fatalf("trade price %s outside [%s, %s]", p, ask, bid)
	}
	if !p.Equal(decimal.NewFromFloat(11.24)) {
		t.Fatalf("expected midpoint 11.24, got %s", p)
	}
}

func TestWalkAcrossLevels(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob, nil)

	agents := testAgents(newTestAgent("buyer", 10000, 0))
	for i := 0; i < 10; i++ {
		id := "seller" + strconv.Itoa(i)
		agents[id] = newTestAgent(id, 0, 1)
		ob.Insert(newTestOrder("s"+strconv.Itoa(i), id, SideSell, float64(100+i), 1))
	}

	ob.Insert(newTestOrder("b1", "buyer", SideBuy, 104, 5))
	trades := m.MatchRound(1, agents)

	if len(trades) != 5 {
		t.Fatalf("expected 5 trades walking the ask side, got %d", len(trades))
	}
	for i, tr := range trades {
		want := decimal.NewFromInt(104).Add(decimal.NewFromInt(int64(100 + i))).Div(two).Round(2)
		if !tr.Price.Equal(want) {
			t.Fatalf("trade %d: expected price %s, got %s", i, want, tr.Price)
		}
	}
	if ob.PendingSells() != 5 {
		t.Fatalf("expected 5 asks left, got %d", ob.PendingSells())
	}
	if _, ok := ob.ordersByID["b1"]; ok {
		t.Fatalf("buy order should be fully filled")
	}
}

func TestUnsettleableOrderIsCancelled(t *testing.T) {
	ob := NewOrderBook()
	m := NewMatcher(ob, nil)
	// "ghost" has no agent behind it; the matcher must cancel it and move on.
	agents := testAgents(newTestAgent("buyer", 1000, 0), newTestAgent("seller", 0, 10))

	ob.Insert(newTestOrder("ghost", "nobody", SideBuy, 12, 5))
	ob.Insert(newTestOrder("b1", "buyer", SideBuy, 11, 5))
	ob.Insert(newTestOrder("s1", "seller", SideSell, 10, 5))

	trades := m.MatchRound(1, agents)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade after cancelling ghost order, got %d", len(trades))
	}
	if trades[0].BuyerID != "buyer" {
		t.Fatalf("expected buyer to trade, got %s", trades[0].BuyerID)
	}
	if _, ok := ob.ordersByID["ghost"]; ok {
		t.Fatalf("ghost order should have been cancelled")
	}
}
