package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agora/decision"
	"agora/internal/config"
	"agora/internal/engine"
	"agora/internal/sim"
)

var (
	configPath = flag.String("config", "", "path to YAML simulation config")
	rounds     = flag.Int("rounds", 0, "number of rounds (overrides config)")
	debug      = flag.Bool("debug", false, "log prompts and raw model responses")
	offline    = flag.Bool("offline", false, "run the scripted demo instead of calling the model")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *rounds > 0 {
		cfg.Rounds = *rounds
	}

	logger, err := newLogger(*debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	market := engine.NewMarket(cfg.Commodity, cfg.Window, sugar)
	agents, err := cfg.BuildAgents()
	if err != nil {
		log.Fatalf("agents: %v", err)
	}
	for _, a := range agents {
		market.AddAgent(a)
	}

	provider := pickProvider(cfg, sugar)
	runner := sim.NewRunner(market, provider, sugar)

	fmt.Printf("=== %s market simulation: %d agents, %d rounds ===\n",
		cfg.Commodity, len(agents), cfg.Rounds)

	ctx := context.Background()
	for i := 0; i < cfg.Rounds; i++ {
		report, err := runner.RunRound(ctx)
		if err != nil {
			log.Fatalf("round %d: %v", i+1, err)
		}
		printRound(report)
	}

	printFinal(market)
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// pickProvider uses the Anthropic model when an API key is present,
// otherwise falls back to the built-in scripted demo.
func pickProvider(cfg config.Config, sugar *zap.SugaredLogger) decision.Provider {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if *offline || apiKey == "" {
		if !*offline {
			sugar.Warn("ANTHROPIC_API_KEY not set, running scripted demo")
		}
		return demoScript()
	}
	p := decision.NewAnthropic(apiKey, cfg.Model, sugar)
	p.SetDebug(*debug)
	return p
}

// demoScript replays the classic first round: two sellers and one buyer.
// Agents outside the default cast simply hold.
func demoScript() *decision.Scripted {
	return decision.NewScripted().
		Add("alice", decision.Decision{Action: decision.ActionSell, Quantity: 10, Price: decimal.NewFromInt(12)}).
		Add("charlie", decision.Decision{Action: decision.ActionSell, Quantity: 15, Price: decimal.NewFromInt(10)}).
		Add("bob", decision.Decision{Action: decision.ActionBuy, Quantity: 20, Price: decimal.NewFromInt(11)})
}

func printRound(report engine.RoundReport) {
	fmt.Printf("\n--- Round %d ---\n", report.Round)
	if len(report.Trades) == 0 {
		fmt.Println("No trades executed (no matching orders)")
	} else {
		fmt.Printf("Executed %d trade(s):\n", len(report.Trades))
		for _, t := range report.Trades {
			fmt.Printf("  %s\n", t)
		}
	}
	for _, o := range report.Dropped {
		fmt.Printf("  expired: %s\n", o)
	}
	for _, a := range report.Agents {
		fmt.Printf("  %s: $%s, %d units\n", a.ID, a.Money.StringFixed(2), a.Inventory)
	}
}

func printFinal(market *engine.Market) {
	fmt.Println("\n=== Simulation complete ===")

	summary := market.Summary()
	for _, a := range market.Agents() {
		total := a.Money
		if summary.AvgRecentPrice != nil {
			total = total.Add(summary.AvgRecentPrice.Mul(decimal.NewFromInt(a.Inventory)))
		}
		fmt.Printf("%s\n  estimated total value: $%s, trades: %d\n",
			a, total.StringFixed(2), len(a.History()))
	}

	history := market.History()
	fmt.Printf("\n%d total trades\n", len(history))
	if len(history) == 0 {
		return
	}
	lo, hi, sum := history[0].Price, history[0].Price, decimal.Zero
	for _, t := range history {
		if t.Price.LessThan(lo) {
			lo = t.Price
		}
		if t.Price.GreaterThan(hi) {
			hi = t.Price
		}
		sum = sum.Add(t.Price)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(history))))
	fmt.Printf("Price range: $%s - $%s\n", lo.StringFixed(2), hi.StringFixed(2))
	fmt.Printf("Average price: $%s\n", avg.StringFixed(2))
}
