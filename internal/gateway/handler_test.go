package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seeme-labs/tutor-bridge/internal/bridge"
	"github.com/seeme-labs/tutor-bridge/internal/ledger"
	"github.com/seeme-labs/tutor-bridge/internal/observability"
	"github.com/seeme-labs/tutor-bridge/internal/transport"
	"github.com/seeme-labs/tutor-bridge/internal/upstream"
)

type nopLedger struct{}

func (nopLedger) RecordStart(ctx context.Context, sessionID, contextID, clientHash string, startedAt time.Time) error {
	return nil
}

func (nopLedger) RecordEnd(ctx context.Context, sessionID string, endedAt time.Time, reason, language string) error {
	return nil
}

type fakeHistory struct {
	recs []ledger.Record
	err  error
}

func (f *fakeHistory) RecentByContext(ctx context.Context, contextID string, limit int) ([]ledger.Record, error) {
	return f.recs, f.err
}

type nopNotes struct{}

func (nopNotes) Context(ctx context.Context, contextID string) (bridge.ContextInfo, error) {
	return bridge.ContextInfo{}, nil
}
func (nopNotes) SetDisplayLabel(ctx context.Context, contextID, label string) error { return nil }
func (nopNotes) SaveNote(ctx context.Context, contextID, text string) (string, error) {
	return "note_1", nil
}
func (nopNotes) RecordConsent(ctx context.Context, contextID string) error { return nil }

func newTestHandler(t *testing.T, cfg Config) (*Handler, *httptest.Server) {
	return newTestHandlerWithHistory(t, cfg, &fakeHistory{})
}

func newTestHandlerWithHistory(t *testing.T, cfg Config, history SessionHistory) (*Handler, *httptest.Server) {
	t.Helper()

	peer := upstream.NewMockPeer()
	h := NewHandler(
		bridge.NewSupervisor(0, slog.Default()),
		upstream.NewMockDialer(peer),
		nopLedger{},
		history,
		nopNotes{},
		observability.NewMetrics(prometheus.NewRegistry()),
		cfg,
		slog.Default(),
	)

	e := echo.New()
	h.Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return h, srv
}

func wsURL(srv *httptest.Server, query string) string {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

func TestHandler_RejectsBadAccessCode(t *testing.T) {
	_, srv := newTestHandler(t, Config{AccessCode: "sesame"})

	resp, err := http.Get(srv.URL + "/ws?code=wrong")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHandler_AcceptsValidAccessCode(t *testing.T) {
	_, srv := newTestHandler(t, Config{AccessCode: "sesame"})

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "code=sesame"), nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	conn.Close()
}

func TestHandler_NoAccessCodeConfigured(t *testing.T) {
	_, srv := newTestHandler(t, Config{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err != nil {
		t.Fatalf("dial without code should succeed: %v", err)
	}
	conn.Close()
}

func TestHandler_RateLimitsConnects(t *testing.T) {
	_, srv := newTestHandler(t, Config{ConnectsPerMinute: 2})

	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
	}

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", resp.StatusCode)
	}
}

func TestHandler_History_ReturnsRecentSessions(t *testing.T) {
	started := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second)
	ended := started.Add(5 * time.Minute)
	_, srv := newTestHandlerWithHistory(t, Config{AccessCode: "sesame"}, &fakeHistory{
		recs: []ledger.Record{{
			SessionID: "sess_a",
			ContextID: "ctx_1",
			StartedAt: started,
			EndedAt:   &ended,
			EndReason: "normal_completion",
		}},
	})

	resp, err := http.Get(srv.URL + "/history?code=sesame&context=ctx_1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out []struct {
		SessionID string  `json:"session_id"`
		EndReason string  `json:"end_reason"`
		DurationS float64 `json:"duration_s"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].SessionID != "sess_a" {
		t.Fatalf("unexpected history %+v", out)
	}
	if out[0].EndReason != "normal_completion" || out[0].DurationS != 300 {
		t.Errorf("unexpected summary %+v", out[0])
	}
}

func TestHandler_History_RequiresContext(t *testing.T) {
	_, srv := newTestHandler(t, Config{})

	resp, err := http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandler_History_GatedByAccessCode(t *testing.T) {
	_, srv := newTestHandler(t, Config{AccessCode: "sesame"})

	resp, err := http.Get(srv.URL + "/history?context=ctx_1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHandler_SessionReceivesModelAudio(t *testing.T) {
	h, srv := newTestHandler(t, Config{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "context=ctx_1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The mock dialer hands every session the same peer.
	peer := h.dialer.(*upstream.MockDialer).Peer
	peer.Emit(upstream.ResponseEvent{Type: upstream.EventTurnComplete})

	var env transport.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != transport.EnvelopeTurnComplete {
		t.Errorf("expected turn_complete, got %s", env.Type)
	}
}
