package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/vreff/BitThetix/pkg/market"
	"github.com/vreff/BitThetix/pkg/models"
	"github.com/vreff/BitThetix/pkg/notify"
	"github.com/vreff/BitThetix/pkg/orders"
)

// Server exposes the aggregator and tracker state to a UI over HTTP.
type Server struct {
	market        *market.Aggregator
	tracker       *orders.Tracker
	wallet        orders.Wallet
	notifications *notify.Center
	logger        *logrus.Logger
	port          string
	authSecret    string
	address       string
	httpServer    *http.Server
}

func NewServer(m *market.Aggregator, t *orders.Tracker, w orders.Wallet, n *notify.Center, logger *logrus.Logger, port, authSecret, address string) *Server {
	return &Server{
		market:        m,
		tracker:       t,
		wallet:        w,
		notifications: n,
		logger:        logger,
		port:          port,
		authSecret:    authSecret,
		address:       address,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/assets", s.handleAssets)
	mux.HandleFunc("/api/prices", s.handlePrices)
	mux.HandleFunc("/api/candles", s.handleCandles)
	mux.HandleFunc("/api/balances", s.handleBalances)
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/granularity", s.handleGranularity)
	mux.HandleFunc("/api/focus", s.handleFocus)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/notifications/ack", s.handleNotificationAck)

	// Enable CORS for the web front-end
	handler := corsMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:    ":" + s.port,
		Handler: handler,
	}

	s.logger.Infof("Starting API server on port %s", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth gates mutating endpoints behind a bearer JWT signed with
// the configured secret. With no secret configured the check is a
// pass-through.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.authSecret == "" {
		return true
	}

	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		http.Error(w, "Missing bearer token", http.StatusUnauthorized)
		return false
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.authSecret), nil
	})
	if err != nil || !token.Valid {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.market.Assets())
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.market.OffChainAssets())
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		ticker = s.market.Focus()
	}

	response := map[string]interface{}{
		"ticker":      ticker,
		"granularity": s.market.Granularity().Name,
		"loading":     s.market.ChartLoading(),
		"candles":     s.market.Candles(ticker),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"balances": s.market.Balances(),
		"sbtc":     s.market.SBTCBalance(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"total_value_btc": s.market.TotalPortfolioValue(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

type orderRequest struct {
	Side        string  `json:"side"`
	Ticker      string  `json:"ticker"`
	AmountSBTC  float64 `json:"amount_sbtc"`
	AmountAsset float64 `json:"amount_asset"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		response := map[string]interface{}{
			"pending":   s.tracker.PendingOrders(),
			"completed": s.tracker.CompletedOrders(),
		}
		s.writeJSON(w, http.StatusOK, response)

	case http.MethodPost:
		if !s.requireAuth(w, r) {
			return
		}
		s.submitOrder(w, r)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, ok := s.market.AssetByTicker(req.Ticker)
	if !ok {
		http.Error(w, "Unknown asset", http.StatusBadRequest)
		return
	}

	var (
		txID    string
		err     error
		order   models.Order
		message string
	)

	switch models.OrderSide(req.Side) {
	case models.OrderSideBuy:
		if req.AmountSBTC <= 0 {
			http.Error(w, "amount_sbtc must be positive", http.StatusBadRequest)
			return
		}
		sats := uint64(math.Floor(req.AmountSBTC * models.SatoshisPerBTC))
		txID, err = s.wallet.PurchaseAsset(r.Context(), asset.Key, sats)
		order = models.Order{
			Status:     models.OrderStatusPending,
			Side:       models.OrderSideBuy,
			AssetKey:   asset.AssetKey(),
			AmountSBTC: req.AmountSBTC,
			Timestamp:  time.Now().Unix(),
		}
		message = fmt.Sprintf("Purchasing %g sBTC of %s...", req.AmountSBTC, asset.Ticker)

	case models.OrderSideSell:
		if req.AmountAsset <= 0 {
			http.Error(w, "amount_asset must be positive", http.StatusBadRequest)
			return
		}
		// Max sell is the held balance.
		amount := math.Min(req.AmountAsset, s.market.Balance(asset.AssetKey()))
		if amount <= 0 {
			http.Error(w, "no balance to sell", http.StatusBadRequest)
			return
		}
		sats := uint64(math.Floor(amount * models.SatoshisPerBTC))
		txID, err = s.wallet.SellAsset(r.Context(), asset.Key, sats)
		order = models.Order{
			Status:      models.OrderStatusPending,
			Side:        models.OrderSideSell,
			AssetKey:    asset.AssetKey(),
			AmountAsset: amount,
			Timestamp:   time.Now().Unix(),
		}
		message = fmt.Sprintf("Selling %g %s...", amount, asset.Ticker)

	default:
		http.Error(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}

	if err != nil {
		s.logger.WithError(err).Error("Order submission failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	order.TxID = txID
	s.tracker.TrackOrder(order, message)
	s.writeJSON(w, http.StatusCreated, order)
}

type granularityRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleGranularity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, models.Granularities)

	case http.MethodPut:
		if !s.requireAuth(w, r) {
			return
		}
		var req granularityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g, ok := models.GranularityByName(req.Name)
		if !ok {
			http.Error(w, "Unknown granularity", http.StatusBadRequest)
			return
		}
		go s.market.SetGranularity(context.Background(), g)
		s.writeJSON(w, http.StatusAccepted, g)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type focusRequest struct {
	Ticker string `json:"ticker"`
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAuth(w, r) {
		return
	}

	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	go s.market.SetFocus(context.Background(), req.Ticker)
	go s.market.RefreshBalanceByTicker(context.Background(), req.Ticker, s.address)
	s.writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.notifications.List())
}

type ackRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleNotificationAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.notifications.Acknowledge(req.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
