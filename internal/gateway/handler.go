// Package gateway is the HTTP edge: it gates incoming connections,
// upgrades them to websockets, and hands them to the session
// supervisor.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/seeme-labs/tutor-bridge/internal/bridge"
	"github.com/seeme-labs/tutor-bridge/internal/ledger"
	"github.com/seeme-labs/tutor-bridge/internal/observability"
	"github.com/seeme-labs/tutor-bridge/internal/shared"
	"github.com/seeme-labs/tutor-bridge/internal/transport"
	"github.com/seeme-labs/tutor-bridge/internal/upstream"
)

const maxDisplayLabelLen = 64

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Config struct {
	AccessCode   string
	SystemPrompt string
	Model        string
	IdleTimeout  time.Duration
	MaxDuration  time.Duration

	// Connection attempts allowed per client IP per minute.
	ConnectsPerMinute int
}

// SessionHistory lists past sessions for one student context.
type SessionHistory interface {
	RecentByContext(ctx context.Context, contextID string, limit int) ([]ledger.Record, error)
}

type Handler struct {
	supervisor *bridge.Supervisor
	dialer     upstream.Dialer
	ledger     bridge.Ledger
	history    SessionHistory
	notes      bridge.ContextSource
	metrics    *observability.Metrics
	cfg        Config
	log        *slog.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

func NewHandler(
	supervisor *bridge.Supervisor,
	dialer upstream.Dialer,
	ledger bridge.Ledger,
	history SessionHistory,
	notes bridge.ContextSource,
	metrics *observability.Metrics,
	cfg Config,
	log *slog.Logger,
) *Handler {
	if cfg.ConnectsPerMinute <= 0 {
		cfg.ConnectsPerMinute = 6
	}
	return &Handler{
		supervisor: supervisor,
		dialer:     dialer,
		ledger:     ledger,
		history:    history,
		notes:      notes,
		metrics:    metrics,
		cfg:        cfg,
		log:        log.With("component", "gateway"),
		limiters:   make(map[string]*rate.Limiter),
	}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleSession)
	e.GET("/history", h.HandleHistory)
}

// HandleSession gates the request, upgrades it, and blocks until the
// session tears down so echo keeps the connection accounted for.
func (h *Handler) HandleSession(c echo.Context) error {
	if h.cfg.AccessCode != "" && c.QueryParam("code") != h.cfg.AccessCode {
		return shared.Unauthorized("invalid_access_code", "invalid access code")
	}

	ip := c.RealIP()
	if !h.limiter(ip).Allow() {
		return shared.TooManyRequests("rate_limited", "too many connection attempts")
	}

	contextID := c.QueryParam("context")
	displayLabel := c.QueryParam("name")
	if len(displayLabel) > maxDisplayLabelLen {
		displayLabel = displayLabel[:maxDisplayLabelLen]
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return err
	}

	sessionID := shared.NewID("sess_")
	ch := transport.NewWSChannel(ws, h.log.With("session_id", sessionID))

	sess := bridge.NewSession(bridge.SessionConfig{
		ID:           sessionID,
		ContextID:    contextID,
		ClientHash:   shared.AnonymizeIP(ip),
		DisplayLabel: displayLabel,
		SystemPrompt: h.cfg.SystemPrompt,
		Model:        h.cfg.Model,
		IdleTimeout:  h.cfg.IdleTimeout,
		MaxDuration:  h.cfg.MaxDuration,
	}, ch, h.dialer, h.ledger, h.notes, h.metrics, h.log)

	if err := h.supervisor.StartSession(sess); err != nil {
		// The socket is already upgraded, so the refusal travels as an
		// in-band envelope rather than an HTTP status.
		h.refuse(c, ch, err)
		return nil
	}

	h.log.Info("session accepted",
		"session_id", sessionID,
		"context_id", contextID,
		"client", shared.AnonymizeIP(ip),
		"remote", ch.RemoteAddr(),
	)
	<-sess.Done()
	return nil
}

type sessionSummary struct {
	SessionID string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	DurationS float64    `json:"duration_s"`
}

// HandleHistory lists a student's recent sessions, newest first. Gated
// by the same access code as the websocket endpoint.
func (h *Handler) HandleHistory(c echo.Context) error {
	if h.cfg.AccessCode != "" && c.QueryParam("code") != h.cfg.AccessCode {
		return shared.Unauthorized("invalid_access_code", "invalid access code")
	}
	contextID := c.QueryParam("context")
	if contextID == "" {
		return shared.BadRequest("missing_context", "context query parameter is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	recs, err := h.history.RecentByContext(c.Request().Context(), contextID, limit)
	if err != nil {
		h.log.Error("history lookup failed", "context_id", contextID, "error", err)
		return shared.InternalError("history_unavailable", "could not load session history")
	}

	out := make([]sessionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionSummary{
			SessionID: rec.SessionID,
			StartedAt: rec.StartedAt,
			EndedAt:   rec.EndedAt,
			EndReason: rec.EndReason,
			DurationS: rec.Duration().Seconds(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) refuse(c echo.Context, ch transport.Channel, err error) {
	code := "refused"
	msg := "unable to start a session right now"
	if errors.Is(err, shared.ErrSessionLimit) {
		code = "capacity"
		msg = "the tutor is at capacity, please try again shortly"
	} else if errors.Is(err, shared.ErrShuttingDown) {
		code = "shutting_down"
		msg = "the service is restarting, please reconnect"
	}
	_ = ch.Send(c.Request().Context(), transport.Envelope{Type: transport.EnvelopeError, Code: code, Data: msg})
	_ = ch.Close("refused")
	h.log.Warn("session refused", "error", err)
}

func (h *Handler) limiter(ip string) *rate.Limiter {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()
	lim, ok := h.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.cfg.ConnectsPerMinute)), h.cfg.ConnectsPerMinute)
		h.limiters[ip] = lim
	}
	return lim
}
