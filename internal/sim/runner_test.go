package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"agora/decision"
	"agora/internal/engine"
)

func newScriptedMarket() (*engine.Market, *decision.Scripted) {
	m := engine.NewMarket("wheat", engine.DefaultWindow, nil)
	m.AddAgent(engine.NewAgent("alice", engine.RoleSeller, decimal.NewFromInt(100), 50, ""))
	m.AddAgent(engine.NewAgent("bob", engine.RoleBuyer, decimal.NewFromInt(500), 0, ""))
	m.AddAgent(engine.NewAgent("charlie", engine.RoleSeller, decimal.NewFromInt(200), 30, ""))
	return m, decision.NewScripted()
}

// Replays the original worked example: two sellers and one buyer. Charlie's
// cheaper ask matches first, then Alice's partially fills the rest.
func TestRunRoundMatchesScriptedOrders(t *testing.T) {
	market, script := newScriptedMarket()
	script.Add("alice", decision.Decision{Action: decision.ActionSell, Quantity: 10, Price: decimal.NewFromInt(12)})
	script.Add("charlie", decision.Decision{Action: decision.ActionSell, Quantity: 15, Price: decimal.NewFromInt(10)})
	script.Add("bob", decision.Decision{Action: decision.ActionBuy, Quantity: 20, Price: decimal.NewFromInt(11)})

	r := NewRunner(market, script, nil)
	report, err := r.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}

	if len(report.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(report.Trades))
	}
	tr := report.Trades[0]
	if tr.BuyerID != "bob" || tr.SellerID != "charlie" {
		t.Fatalf("expected bob to buy from charlie's cheaper ask, got %+v", tr)
	}
	if tr.Quantity != 15 || !tr.Price.Equal(decimal.NewFromFloat(10.5)) {
		t.Fatalf("expected 15 @ 10.50, got %+v", tr)
	}

	// bob's residual 5 @ 11 does not cross alice's 10 @ 12; both expire
	if len(report.Dropped) != 2 {
		t.Fatalf("expected 2 day orders dropped, got %d", len(report.Dropped))
	}

	bob, _ := market.Agent("bob")
	if bob.Inventory != 15 || !bob.Money.Equal(decimal.NewFromFloat(342.5)) {
		t.Fatalf("bob not settled: %s", bob)
	}
}

type failingProvider struct{ calls int }

func (p *failingProvider) Decide(context.Context, engine.AgentState, engine.Summary) (decision.Decision, error) {
	p.calls++
	return decision.Hold(), errors.New("model unavailable")
}

// A decision failure degrades that agent to HOLD; the round still completes.
func TestProviderFailureDegradesToHold(t *testing.T) {
	market, _ := newScriptedMarket()
	provider := &failingProvider{}

	r := NewRunner(market, provider, nil)
	report, err := r.RunRound(context.Background())
	if err != nil {
		t.Fatalf("round must survive provider failures: %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("every agent must still be asked, got %d calls", provider.calls)
	}
	if len(report.Trades) != 0 {
		t.Fatalf("expected no trades when everyone holds")
	}
}

// An order the market rejects is local to its agent.
func TestRejectedOrderDoesNotStopRound(t *testing.T) {
	market, script := newScriptedMarket()
	script.Add("alice", decision.Decision{Action: decision.ActionSell, Quantity: 10, Price: decimal.NewFromInt(10)})
	script.Add("bob", decision.Decision{Action: decision.ActionBuy, Quantity: 10, Price: decimal.NewFromInt(10)})
	// charlie tries to sell more than he holds
	script.Add("charlie", decision.Decision{Action: decision.ActionSell, Quantity: 500, Price: decimal.NewFromInt(9)})

	r := NewRunner(market, script, nil)
	report, err := r.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if len(report.Trades) != 1 {
		t.Fatalf("alice and bob should still trade, got %d trades", len(report.Trades))
	}
}

// An action that is neither buy, sell nor hold degrades that agent to
// holding instead of submitting a mislabeled order.
func TestUnknownActionDegradesToHold(t *testing.T) {
	market, script := newScriptedMarket()
	script.Add("alice", decision.Decision{Action: decision.ActionSell, Quantity: 5, Price: decimal.NewFromInt(10)})
	script.Add("bob", decision.Decision{Action: "short", Quantity: 5, Price: decimal.NewFromInt(10)})

	r := NewRunner(market, script, nil)
	report, err := r.RunRound(context.Background())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if len(report.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(report.Trades))
	}
	if len(report.Dropped) != 1 || report.Dropped[0].AgentID != "alice" {
		t.Fatalf("only alice's order should have reached the book, got %+v", report.Dropped)
	}
}

func TestRunSequentialRounds(t *testing.T) {
	market, script := newScriptedMarket()
	for i := 0; i < 2; i++ {
		script.Add("alice", decision.Decision{Action: decision.ActionSell, Quantity: 5, Price: decimal.NewFromInt(10)})
		script.Add("bob", decision.Decision{Action: decision.ActionBuy, Quantity: 5, Price: decimal.NewFromInt(10)})
	}

	r := NewRunner(market, script, nil)
	if err := r.Run(context.Background(), 3); err != nil {
		t.Fatalf("run: %v", err)
	}
	if market.Round() != 3 {
		t.Fatalf("expected 3 rounds, got %d", market.Round())
	}
	if len(market.History()) != 2 {
		t.Fatalf("expected 2 trades over the run, got %d", len(market.History()))
	}
}

func TestSubscribersReceiveReports(t *testing.T) {
	market, script := newScriptedMarket()
	script.Add("alice", decision.Decision{Action: decision.ActionSell, Quantity: 5, Price: decimal.NewFromInt(10)})
	script.Add("bob", decision.Decision{Action: decision.ActionBuy, Quantity: 5, Price: decimal.NewFromInt(10)})

	r := NewRunner(market, script, nil)
	sub := r.Subscribe(4)
	defer r.Unsubscribe(sub)

	if _, err := r.RunRound(context.Background()); err != nil {
		t.Fatalf("run round: %v", err)
	}

	select {
	case report := <-sub.C():
		if report.Round != 1 || len(report.Trades) != 1 {
			t.Fatalf("unexpected report: %+v", report)
		}
	default:
		t.Fatalf("expected a broadcast round report")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	market, script := newScriptedMarket()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(market, script, nil)
	if err := r.Run(ctx, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
