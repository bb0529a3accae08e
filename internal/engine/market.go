package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// phase tracks where a round is in its lifecycle.
type phase int

const (
	phaseIdle phase = iota
	phaseCollecting
	phaseDone
)

const DefaultWindow = 5

// Market runs the double auction for one commodity: it collects at most one
// order per agent per round, matches the book, settles the resulting trades
// against agent balances, and expires whatever is left (day orders).
type Market struct {
	Commodity string

	book    *OrderBook
	matcher *Matcher
	agents  map[string]*Agent
	history []*Trade

	round     int
	window    int
	phase     phase
	submitted map[string]bool

	log *zap.SugaredLogger
}

func NewMarket(commodity string, window int, log *zap.SugaredLogger) *Market {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	book := NewOrderBook()
	return &Market{
		Commodity: commodity,
		book:      book,
		matcher:   NewMatcher(book, log),
		agents:    make(map[string]*Agent),
		window:    window,
		submitted: make(map[string]bool),
		log:       log,
	}
}

// AddAgent registers an agent before the simulation starts.
func (m *Market) AddAgent(a *Agent) {
	m.agents[a.ID] = a
}

func (m *Market) Agent(id string) (*Agent, bool) {
	a, ok := m.agents[id]
	return a, ok
}

// Agents returns all agents sorted by ID for a deterministic iteration order.
func (m *Market) Agents() []*Agent {
	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Round returns the current round number.
func (m *Market) Round() int { return m.round }

// BeginRound advances to the next round and opens order collection.
func (m *Market) BeginRound() int {
	m.round++
	m.phase = phaseCollecting
	m.submitted = make(map[string]bool)
	return m.round
}

// Submit validates and places one order for an agent in the current round.
// No escrow is held: funds and inventory are checked now and settled at
// match time. To keep that sound the market accepts at most one order per
// agent per round.
func (m *Market) Submit(agentID string, side Side, quantity int64, price decimal.Decimal) (*Order, error) {
	if m.phase != phaseCollecting {
		return nil, fmt.Errorf("%w: round %d is not collecting orders", ErrInvalidOrder, m.round)
	}
	agent, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if m.submitted[agentID] {
		return nil, fmt.Errorf("%w: %s, round %d", ErrDuplicateOrder, agentID, m.round)
	}

	order, err := agent.SubmitOrder(side, quantity, price, m.round)
	if err != nil {
		return nil, err
	}
	if err := m.book.Insert(order); err != nil {
		return nil, err
	}
	m.submitted[agentID] = true
	return order, nil
}

// RoundReport is what one completed round produced: the trades in execution
// order, the day orders dropped unfilled at close, and every agent's
// post-round state.
type RoundReport struct {
	Round   int          `json:"round"`
	Trades  []*Trade     `json:"trades"`
	Dropped []*Order     `json:"-"`
	Agents  []AgentState `json:"agents"`
}

// CloseRound matches the book, settles every trade against both parties,
// expires unfilled orders, and reports the round. Settlement cannot
// half-apply: both RecordTrade calls happen back to back with nothing in
// between that can fail.
func (m *Market) CloseRound() RoundReport {
	trades := m.matcher.MatchRound(m.round, m.agents)

	for _, t := range trades {
		t.Seq = int64(len(m.history) + 1)
		m.agents[t.BuyerID].RecordTrade(t)
		m.agents[t.SellerID].RecordTrade(t)
		m.history = append(m.history, t)
	}

	dropped := m.book.Clear()
	for _, o := range dropped {
		m.log.Infow("day order expired unfilled",
			"order_id", o.ID, "agent", o.AgentID, "side", o.Side,
			"remaining", o.Remaining, "price", o.Price)
	}

	m.phase = phaseDone

	report := RoundReport{Round: m.round, Trades: trades, Dropped: dropped}
	for _, a := range m.Agents() {
		report.Agents = append(report.Agents, a.StateSummary())
	}
	return report
}

// History returns the full trade history, oldest first.
func (m *Market) History() []*Trade {
	out := make([]*Trade, len(m.history))
	copy(out, m.history)
	return out
}

// Summary is the flat market snapshot fed to decision providers and the
// display layer.
type Summary struct {
	Round             int              `json:"round"`
	Commodity         string           `json:"commodity"`
	LastPrice         *decimal.Decimal `json:"last_price"`
	AvgRecentPrice    *decimal.Decimal `json:"avg_recent_price"`
	PendingBuyOrders  int              `json:"pending_buy_orders"`
	PendingSellOrders int              `json:"pending_sell_orders"`
	RecentTrades      int              `json:"recent_trades"`
	TotalVolume       int64            `json:"total_volume"`
}

// Summary derives the current market snapshot. Pure read: calling it twice
// with no intervening mutation yields identical output.
func (m *Market) Summary() Summary {
	s := Summary{
		Round:             m.round,
		Commodity:         m.Commodity,
		PendingBuyOrders:  m.book.PendingBuys(),
		PendingSellOrders: m.book.PendingSells(),
	}

	start := len(m.history) - m.window
	if start < 0 {
		start = 0
	}
	recent := m.history[start:]
	s.RecentTrades = len(recent)
	if len(recent) == 0 {
		return s
	}

	last := recent[len(recent)-1].Price
	s.LastPrice = &last

	sum := decimal.Zero
	for _, t := range recent {
		sum = sum.Add(t.Price)
		s.TotalVolume += t.Quantity
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(recent)))).Round(2)
	s.AvgRecentPrice = &avg
	return s
}

func (m *Market) String() string {
	return fmt.Sprintf("Market(%s, round=%d, trades=%d)", m.Commodity, m.round, len(m.history))
}
