package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"agora/internal/engine"
)

const (
	// DefaultModel is fast and cheap, which matters at one call per agent
	// per round.
	DefaultModel = "claude-3-5-haiku-20241022"

	maxTokens      = 200
	temperature    = 0.7 // some randomness
	messagesURL    = "https://api.anthropic.com/v1/messages"
	apiVersion     = "2023-06-01"
	requestTimeout = 30 * time.Second
)

// Anthropic asks a Claude model for each agent's trading decision over the
// Anthropic messages API.
type Anthropic struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	debug   bool
	log     *zap.SugaredLogger
}

func NewAnthropic(apiKey, model string, log *zap.SugaredLogger) *Anthropic {
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Anthropic{
		client:  &http.Client{Timeout: requestTimeout},
		baseURL: messagesURL,
		apiKey:  apiKey,
		model:   model,
		log:     log,
	}
}

// SetDebug logs full prompts and raw model responses.
func (p *Anthropic) SetDebug(on bool) { p.debug = on }

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Anthropic) Decide(ctx context.Context, agent engine.AgentState, summary engine.Summary) (Decision, error) {
	prompt := BuildPrompt(agent, summary)
	if p.debug {
		p.log.Debugw("decision prompt", "agent", agent.ID, "prompt", prompt)
	}

	body, err := json.Marshal(messagesRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Hold(), err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return Hold(), err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return Hold(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Hold(), fmt.Errorf("anthropic: unexpected status %d", resp.StatusCode)
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Hold(), err
	}
	if len(out.Content) == 0 {
		return Hold(), fmt.Errorf("%w: empty response", ErrParse)
	}

	text := out.Content[0].Text
	if p.debug {
		p.log.Debugw("decision response", "agent", agent.ID, "response", text)
	}
	return Parse(text)
}

// BuildPrompt renders the trading prompt for one agent: its own state and
// recent fills, current market conditions, and a strict-JSON response
// contract.
func BuildPrompt(agent engine.AgentState, s engine.Summary) string {
	recentDesc := "No recent trades yet."
	if len(agent.RecentFills) > 0 {
		parts := make([]string, 0, len(agent.RecentFills))
		for _, f := range agent.RecentFills {
			verb := "Sold"
			if f.Bought {
				verb = "Bought"
			}
			parts = append(parts, fmt.Sprintf("%s %d @ $%s", verb, f.Quantity, f.Price.StringFixed(2)))
		}
		recentDesc = strings.Join(parts, "; ")
	}

	lastPrice := "N/A"
	if s.LastPrice != nil {
		lastPrice = "$" + s.LastPrice.StringFixed(2)
	}
	avgPrice := "N/A"
	if s.AvgRecentPrice != nil {
		avgPrice = "$" + s.AvgRecentPrice.StringFixed(2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an economic agent in a marketplace trading %s.\n\n", s.Commodity)
	fmt.Fprintf(&b, "YOUR STATE:\n")
	fmt.Fprintf(&b, "- Role: %s\n", agent.Role)
	fmt.Fprintf(&b, "- Money: $%s\n", agent.Money.StringFixed(2))
	fmt.Fprintf(&b, "- Inventory: %d units\n", agent.Inventory)
	fmt.Fprintf(&b, "- Personality: %s\n", agent.Personality)
	fmt.Fprintf(&b, "- Recent trades: %s\n\n", recentDesc)
	fmt.Fprintf(&b, "MARKET CONDITIONS (Round %d):\n", s.Round)
	fmt.Fprintf(&b, "- Last traded price: %s\n", lastPrice)
	fmt.Fprintf(&b, "- Average recent price: %s\n", avgPrice)
	fmt.Fprintf(&b, "- Pending buy orders: %d\n", s.PendingBuyOrders)
	fmt.Fprintf(&b, "- Pending sell orders: %d\n\n", s.PendingSellOrders)
	b.WriteString(`TASK:
Decide whether to BUY, SELL, or HOLD this round. Consider your role, current inventory, available money, and market conditions.

Respond with ONLY a JSON object in this exact format:
{"action": "buy", "quantity": 10, "price": 12.50, "reasoning": "brief explanation"}
OR
{"action": "sell", "quantity": 5, "price": 11.00, "reasoning": "brief explanation"}
OR
{"action": "hold", "reasoning": "brief explanation"}

Ensure quantities and prices are realistic given your constraints.`)
	return b.String()
}
