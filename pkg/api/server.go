// Package api exposes a simulator over REST and streams its events over
// WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/core/engine"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/app/sim"
	"github.com/uhyunpark/marketsim/pkg/storage"
)

// Server handles REST API and WebSocket connections
type Server struct {
	ctrl     sim.Controller
	router   *mux.Router
	hub      *Hub
	validate *validator.Validate
	log      *zap.SugaredLogger

	// background runs started by POST /simulation/run
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup

	httpMu sync.Mutex
	http   *http.Server
}

// NewServer creates an API server and registers it as a listener on ctrl
func NewServer(ctrl sim.Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctrl:      ctrl,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		validate:  validator.New(),
		log:       logger.Named("api").Sugar(),
		runCtx:    ctx,
		cancelRun: cancel,
	}
	s.setupRoutes()
	ctrl.RegisterListener(s)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/history", s.handleGetHistory).Methods("GET")

	// Portfolio endpoints
	api.HandleFunc("/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/pending", s.handleGetPending).Methods("GET")
	api.HandleFunc("/orders/executed", s.handleGetExecuted).Methods("GET")

	// Simulation control
	api.HandleFunc("/simulation/run", s.handleRunSimulation).Methods("POST")
	api.HandleFunc("/simulation/stop", s.handleStopSimulation).Methods("POST")
	api.HandleFunc("/simulation/status", s.handleSimulationStatus).Methods("GET")

	// Journal
	api.HandleFunc("/runs", s.handleGetRuns).Methods("GET")
	api.HandleFunc("/runs/{runId}/executions", s.handleGetRunExecutions).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpMu.Lock()
	s.http = srv
	s.httpMu.Unlock()

	s.log.Infow("server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops background runs, the HTTP server and the hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.ctrl.UnregisterListener(s)
	s.cancelRun()

	var err error
	s.httpMu.Lock()
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.httpMu.Unlock()
	s.hub.Stop()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Quotes())
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	q, ok := s.ctrl.Quote(symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", symbol)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	pts, err := s.ctrl.History(symbol, limit)
	if errors.Is(err, engine.ErrUnknownSymbol) {
		respondError(w, http.StatusNotFound, "market not found", symbol)
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	if pts == nil {
		pts = []market.PricePoint{}
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Symbol: symbol, Points: pts})
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Portfolio())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Stats())
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	side, err := order.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	typ := sim.OrderType(req.Type)
	if typ == "" {
		typ = sim.MarketOrder
	}

	o, err := s.ctrl.SubmitOrder(sim.OrderRequest{
		Symbol:   req.Symbol,
		Side:     side,
		Type:     typ,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	status := "pending"
	if o.IsFilled() {
		status = "filled"
	}
	s.log.Infow("order_accepted", "order_id", o.ID, "symbol", o.Symbol, "type", typ, "status", status)
	respondJSON(w, http.StatusOK, SubmitOrderResponse{Status: status, Order: toOrderInfo(o)})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := s.ctrl.CancelOrder(req.OrderID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SubmitOrderResponse{Status: "cancelled", Order: toOrderInfo(o)})
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	pending := s.ctrl.PendingOrders()
	respondJSON(w, http.StatusOK, PendingOrdersResponse{Count: len(pending), Orders: toOrderInfos(pending)})
}

func (s *Server) handleGetExecuted(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, toOrderInfos(s.ctrl.ExecutedOrders()))
}

func (s *Server) handleRunSimulation(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Wait {
		res, err := s.ctrl.RunSimulation(r.Context(), req.Steps)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, toRunResponse(res))
		return
	}

	s.runs.Add(1)
	runID, err := s.ctrl.StartSimulation(s.runCtx, req.Steps, func(_ sim.RunResult, err error) {
		defer s.runs.Done()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warnw("background_run_failed", "steps", req.Steps, "err", err)
		}
	})
	if err != nil {
		s.runs.Done()
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, RunResponse{Status: "started", RunID: runID, StepsRequested: req.Steps})
}

func (s *Server) handleStopSimulation(w http.ResponseWriter, r *http.Request) {
	stopped := s.ctrl.StopSimulation()
	respondJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleSimulationStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:    "ok",
		SessionID: s.ctrl.SessionID(),
		Running:   s.ctrl.Running(),
		Step:      s.ctrl.CurrentStep(),
	})
}

func (s *Server) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.ctrl.Runs()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRunExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	recs, err := s.ctrl.RunExecutions(mux.Vars(r)["runId"], limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	if recs == nil {
		recs = []storage.ExecutionRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Listener (events from the simulator)
// ==============================

func (s *Server) broadcastOrder(event string, o order.Order, valid *bool, reason string) {
	s.hub.BroadcastToChannel(ChannelOrders, OrderEvent{
		Type:      "order",
		Event:     event,
		Order:     toOrderInfo(o),
		Valid:     valid,
		Reason:    reason,
		Timestamp: nowMillis(),
	})
}

func (s *Server) OnOrderSubmitted(o order.Order) { s.broadcastOrder("submitted", o, nil, "") }

func (s *Server) OnOrderValidated(o order.Order, valid bool) {
	event := "validated"
	if !valid {
		event = "rejected"
	}
	s.broadcastOrder(event, o, &valid, "")
}

func (s *Server) OnOrderCancelled(o order.Order) { s.broadcastOrder("cancelled", o, nil, "") }

func (s *Server) OnOrderFailed(o order.Order, reason string) {
	s.broadcastOrder("failed", o, nil, reason)
}

func (s *Server) OnOrderExecuted(o order.Order, price, quantity float64) {
	s.hub.BroadcastToChannel(ChannelExecutions, ExecutionEvent{
		Type:      "execution",
		Order:     toOrderInfo(o),
		Price:     price,
		Quantity:  quantity,
		Timestamp: nowMillis(),
	})
}

func (s *Server) OnStep(step int, quotes []market.Quote) {
	s.hub.BroadcastToChannel(ChannelPrices, PriceUpdate{
		Type:      "prices",
		Step:      step,
		Quotes:    quotes,
		Timestamp: nowMillis(),
	})
}

func (s *Server) OnSimulationStart(runID string, steps int) {
	s.hub.BroadcastToChannel(ChannelSimulation, SimulationEvent{
		Type: "simulation", Event: "started", RunID: runID, Steps: steps, Timestamp: nowMillis(),
	})
}

func (s *Server) OnSimulationStop(runID string, completed int) {
	s.hub.BroadcastToChannel(ChannelSimulation, SimulationEvent{
		Type: "simulation", Event: "stopped", RunID: runID, Steps: completed, Timestamp: nowMillis(),
	})
}

var _ sim.Listener = (*Server)(nil)

// ==============================
// Helper Functions
// ==============================

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}
	if err := s.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", raw)
		return 0, false
	}
	return n, true
}

func toRunResponse(res sim.RunResult) RunResponse {
	status := "completed"
	if res.Stopped {
		status = "stopped"
	}
	return RunResponse{
		Status:         status,
		RunID:          res.RunID,
		StepsRequested: res.StepsRequested,
		StepsCompleted: res.StepsCompleted,
		Executions:     len(res.Executions),
		StateHash:      res.StateHash,
	}
}

// statusFor maps simulator errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, storage.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, sim.ErrSimulationRunning):
		return http.StatusConflict
	case errors.Is(err, sim.ErrNoJournal):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrInsufficientFunds), errors.Is(err, engine.ErrNotExecutable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrUnknownSymbol),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, sim.ErrInvalidSteps),
		errors.Is(err, sim.ErrInvalidOrderType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}
