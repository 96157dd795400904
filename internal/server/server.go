package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"faucetrelay/internal/config"
	"faucetrelay/internal/hmacauth"
	"faucetrelay/internal/ledger"
	"faucetrelay/internal/relay"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	maxClaimBodyBytes = 1 << 12

	upstreamUnavailableDetail = "node or claim store unavailable, retry later"
)

// Claimer runs one faucet claim.
type Claimer interface {
	Claim(ctx context.Context, rawAddress string) (relay.Result, error)
}

// HealthSource reports on the relay wallet.
type HealthSource interface {
	Health(ctx context.Context) (relay.HealthReport, error)
}

type Server struct {
	cfg        *config.AppConfig
	claimer    Claimer
	health     HealthSource
	claimAuth  *hmacauth.Verifier
	httpServer *http.Server
	handler    http.Handler
	metrics    *metricsRegistry
	logger     *slog.Logger
}

func NewServer(cfg *config.AppConfig, claimer Claimer, health HealthSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		claimer: claimer,
		health:  health,
		claimAuth: &hmacauth.Verifier{
			Secret:  cfg.Service.ClaimSecret,
			MaxSkew: cfg.Service.ClockSkew,
		},
		metrics: newMetricsRegistry(),
		logger:  logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/claim", s.claimAuth.Middleware(http.HandlerFunc(s.handleClaim))).Methods(http.MethodPost)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	s.handler = requestIDMiddleware(s.logRequests(corsMiddleware(cfg.Service.CORSOrigin, r)))
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.logger.Info("relay listening", "addr", s.httpServer.Addr, "signed_claims", s.claimAuth.Enabled())
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type claimRequest struct {
	Address string `json:"address"`
}

type claimResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Contract       string `json:"contract"`
	RelayerAddress string `json:"relayerAddress"`
	RelayerBalance string `json:"relayerBalance,omitempty"`
	Store          string `json:"store,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var payload claimRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClaimBodyBytes)).Decode(&payload); err != nil {
		s.metrics.incClaim("invalid_json")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload"})
		return
	}

	res, err := s.claimer.Claim(r.Context(), payload.Address)
	s.metrics.observeClaim(time.Since(start))
	if err != nil {
		s.metrics.incClaim(outcomeLabel(err))
		s.writeClaimError(w, r, err)
		return
	}

	s.metrics.incClaim("sent")
	s.metrics.addPaidOut(res.Amount)
	writeJSON(w, http.StatusOK, claimResponse{Success: true, TxHash: res.TxHash})
}

func (s *Server) writeClaimError(w http.ResponseWriter, r *http.Request, err error) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		s.logger.Error("unclassified claim error", "request_id", r.Header.Get(requestIDHeader), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if relayErr.RetryAfter > 0 {
		secs := int((relayErr.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	details := relayErr.Detail
	if relayErr.Kind == relay.KindUpstreamUnavailable {
		// Transport errors name internal hosts and ports.
		s.logger.Warn("claim upstream unavailable", "request_id", r.Header.Get(requestIDHeader), "error", err)
		details = upstreamUnavailableDetail
	}
	writeJSON(w, statusFor(relayErr), errorResponse{Error: relayErr.Reason.Error(), Details: details})
}

// statusFor maps dispatcher errors onto HTTP statuses.
func statusFor(err *relay.Error) int {
	switch err.Kind {
	case relay.KindInvalidInput:
		return http.StatusBadRequest
	case relay.KindPolicyDenied:
		switch {
		case errors.Is(err, relay.ErrCooldown):
			return http.StatusTooManyRequests
		case errors.Is(err, relay.ErrAlreadyClaimed):
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case relay.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, relay.ErrSufficientBalance):
		return "sufficient_balance"
	case errors.Is(err, relay.ErrCooldown):
		return "cooldown"
	case errors.Is(err, relay.ErrAlreadyClaimed):
		return "already_claimed"
	}
	return relay.KindOf(err).String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.health.Health(r.Context())

	resp := healthResponse{
		Status:         report.Status,
		Contract:       report.Contract,
		RelayerAddress: report.RelayAddress.Hex(),
		Store:          report.Store,
	}
	if err != nil {
		// A balance means the node answered and only the claim store failed.
		s.metrics.setHealthy(report.RelayBalance != nil)
		resp.Status = relay.StatusError
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	s.metrics.setHealthy(true)
	s.metrics.setRelayBalance(report.RelayBalance)
	resp.RelayerBalance = ledger.FormatEther(report.RelayBalance)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

const requestIDHeader = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(origin string, next http.Handler) http.Handler {
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+hmacauth.DefaultSignatureHeader+", "+hmacauth.DefaultTimestampHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", r.Header.Get(requestIDHeader),
		)
	})
}
