package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"agora/db"
	"agora/decision"
	"agora/internal/config"
	"agora/internal/engine"
	"agora/internal/sim"
)

// server exposes a running simulation read-only: summaries, trades, agent
// states, and a websocket stream of round reports. The mutex is the single
// critical section serializing round mutations against reads.
type server struct {
	mu       sync.RWMutex
	runner   *sim.Runner
	market   *engine.Market
	latest   *engine.RoundReport
	upgrader websocket.Upgrader
	sugar    *zap.SugaredLogger
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("SIM_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zcfg := zap.NewProductionConfig()
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// market + agents
	market := engine.NewMarket(cfg.Commodity, cfg.Window, sugar)
	agents, err := cfg.BuildAgents()
	if err != nil {
		log.Fatalf("agents: %v", err)
	}
	for _, a := range agents {
		market.AddAgent(a)
	}

	var provider decision.Provider
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		provider = decision.NewAnthropic(apiKey, cfg.Model, sugar)
	} else {
		sugar.Warn("ANTHROPIC_API_KEY not set, all agents will hold")
		provider = decision.NewScripted()
	}

	runner := sim.NewRunner(market, provider, sugar)

	// optional persistence, layered on the round report
	if os.Getenv("DATABASE_URL") != "" {
		pool, err := db.NewPool(ctx)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		recorder := db.NewRecorder(pool)
		if err := recorder.Init(ctx); err != nil {
			log.Fatalf("db init: %v", err)
		}
		runner.SetRecorder(recorder)
	}

	s := &server{
		runner:   runner,
		market:   market,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sugar:    sugar,
	}
	go s.roundLoop(ctx, cfg.Rounds, cfg.RoundInterval.Std())

	r := chi.NewRouter()

	// Hygiene stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(3 * time.Second))

	r.Get("/summary", s.handleSummary)
	r.Get("/agents", s.handleAgents)
	r.Get("/trades", s.handleTrades)
	r.Get("/rounds/latest", s.handleLatestRound)
	r.Get("/ws/rounds", s.handleRoundStream)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sugar.Infow("listening", "addr", addr, "commodity", cfg.Commodity)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// roundLoop runs the configured number of rounds, one per interval. Reads
// see either the state before a round or after it, never the middle.
func (s *server) roundLoop(ctx context.Context, rounds int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for done := 0; done < rounds; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			report, err := s.runner.RunRound(ctx)
			if err == nil {
				s.latest = &report
			}
			s.mu.Unlock()
			if err != nil {
				s.sugar.Errorw("round failed", "err", err)
				return
			}
			done++
		}
	}
	s.sugar.Infow("simulation complete", "rounds", rounds)
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	reqID := middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":      title,
		"status":     code,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": reqID,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	summary := s.market.Summary()
	s.mu.RUnlock()
	writeJSON(w, r, summary)
}

func (s *server) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	states := make([]engine.AgentState, 0)
	for _, a := range s.market.Agents() {
		states = append(states, a.StateSummary())
	}
	s.mu.RUnlock()
	writeJSON(w, r, states)
}

func (s *server) handleTrades(w http.ResponseWriter, r *http.Request) {
	var round int
	if v := r.URL.Query().Get("round"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, "validation_error", "round must be an integer")
			return
		}
		round = n
	}

	s.mu.RLock()
	history := s.market.History()
	s.mu.RUnlock()

	if round > 0 {
		filtered := history[:0:0]
		for _, t := range history {
			if t.Round == round {
				filtered = append(filtered, t)
			}
		}
		history = filtered
	}
	writeJSON(w, r, history)
}

func (s *server) handleLatestRound(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == nil {
		writeProblem(w, r, http.StatusNotFound, "not_found", "no round has completed yet")
		return
	}
	writeJSON(w, r, latest)
}

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *server) handleRoundStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.runner.Subscribe(8)
	defer s.runner.Unsubscribe(sub)

	// drain client frames so closes are noticed
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case report, ok := <-sub.C():
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "round", Data: report}); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
