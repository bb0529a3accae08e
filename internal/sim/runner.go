// Package sim drives the round loop: collect one decision per agent,
// submit the resulting orders, clear the market, and publish the report.
package sim

import (
	"context"

	"go.uber.org/zap"

	"agora/db"
	"agora/decision"
	"agora/internal/engine"
)

type Runner struct {
	market   *engine.Market
	provider decision.Provider
	recorder *db.Recorder
	reports  *Hub[engine.RoundReport]
	log      *zap.SugaredLogger
}

func NewRunner(market *engine.Market, provider decision.Provider, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		market:   market,
		provider: provider,
		reports:  NewHub[engine.RoundReport](),
		log:      log,
	}
}

// SetRecorder enables trade persistence. A nil recorder is fine.
func (r *Runner) SetRecorder(rec *db.Recorder) { r.recorder = rec }

// Market exposes the underlying market for read-only display layers.
// Callers that run rounds concurrently with reads must serialize access.
func (r *Runner) Market() *engine.Market { return r.market }

// Subscribe returns a stream of round reports.
func (r *Runner) Subscribe(buffer int) *Subscription[engine.RoundReport] {
	return r.reports.Subscribe(buffer)
}

func (r *Runner) Unsubscribe(sub *Subscription[engine.RoundReport]) {
	r.reports.Unsubscribe(sub)
}

// RunRound executes one full round. Decision failures and order rejections
// degrade to HOLD for that agent; nothing here stops the simulation.
func (r *Runner) RunRound(ctx context.Context) (engine.RoundReport, error) {
	round := r.market.BeginRound()
	summary := r.market.Summary()
	r.log.Infow("round started", "round", round, "commodity", summary.Commodity)

	for _, agent := range r.market.Agents() {
		if err := ctx.Err(); err != nil {
			return engine.RoundReport{}, err
		}

		d, err := r.provider.Decide(ctx, agent.StateSummary(), summary)
		if err != nil {
			r.log.Warnw("decision failed, agent holds",
				"round", round, "agent", agent.ID, "err", err)
			continue
		}
		if d.Action == decision.ActionHold {
			r.log.Debugw("agent holds", "round", round, "agent", agent.ID, "reasoning", d.Reasoning)
			continue
		}

		side, err := engine.ParseSide(string(d.Action))
		if err != nil {
			r.log.Warnw("unusable decision, agent holds",
				"round", round, "agent", agent.ID, "action", d.Action, "err", err)
			continue
		}
		order, err := r.market.Submit(agent.ID, side, d.Quantity, d.Price)
		if err != nil {
			// local to this agent; the round continues
			r.log.Warnw("order rejected",
				"round", round, "agent", agent.ID, "action", d.Action,
				"quantity", d.Quantity, "price", d.Price, "err", err)
			continue
		}
		r.log.Infow("order submitted",
			"round", round, "agent", agent.ID, "side", order.Side,
			"quantity", order.Quantity, "price", order.Price)
	}

	report := r.market.CloseRound()
	for _, t := range report.Trades {
		r.log.Infow("trade executed",
			"round", round, "buyer", t.BuyerID, "seller", t.SellerID,
			"quantity", t.Quantity, "price", t.Price)
	}

	if err := r.recorder.RecordRound(ctx, report.Trades); err != nil {
		// persistence is layered on the report; losing it never fails a round
		r.log.Errorw("trade persistence failed", "round", round, "err", err)
	}

	r.reports.Broadcast(report)
	return report, nil
}

// Run executes rounds sequentially until the count is reached or the
// context is cancelled.
func (r *Runner) Run(ctx context.Context, rounds int) error {
	for i := 0; i < rounds; i++ {
		if _, err := r.RunRound(ctx); err != nil {
			return err
		}
	}
	return nil
}
