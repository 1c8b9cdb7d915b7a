package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestChannel(t *testing.T) (*WSChannel, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	channels := make(chan *WSChannel, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		channels <- NewWSChannel(ws, nil)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case ch := <-channels:
		t.Cleanup(func() { ch.Close("test done") })
		return ch, client
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server channel")
		return nil, nil
	}
}

func TestWSChannel_ReceiveClientEnvelope(t *testing.T) {
	ch, client := startTestChannel(t)

	if err := client.WriteJSON(Envelope{Type: EnvelopeAudio, Data: "AAAA"}); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	select {
	case env := <-ch.Receive():
		if env.Type != EnvelopeAudio {
			t.Errorf("expected audio envelope, got %s", env.Type)
		}
		if env.Data != "AAAA" {
			t.Errorf("unexpected data %q", env.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestWSChannel_SendReachesClient(t *testing.T) {
	ch, client := startTestChannel(t)

	err := ch.Send(context.Background(), Envelope{Type: EnvelopeText, Data: "hello"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var env Envelope
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := client.ReadJSON(&env); err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if env.Type != EnvelopeText || env.Data != "hello" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestWSChannel_PingAnsweredNotSurfaced(t *testing.T) {
	ch, client := startTestChannel(t)

	if err := client.WriteJSON(Envelope{Type: EnvelopeControl, Reason: ControlPing}); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	var env Envelope
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := client.ReadJSON(&env); err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if env.Type != EnvelopeControl || env.Reason != ControlPong {
		t.Errorf("expected pong, got %+v", env)
	}

	select {
	case got := <-ch.Receive():
		t.Errorf("ping should not surface to the session, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSChannel_MalformedFramesIgnored(t *testing.T) {
	ch, client := startTestChannel(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	if err := client.WriteJSON(Envelope{Type: EnvelopeVideo, Data: "BBBB"}); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	select {
	case env := <-ch.Receive():
		if env.Type != EnvelopeVideo {
			t.Errorf("expected the valid frame, got %s", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestWSChannel_ClientDisconnectClosesReceive(t *testing.T) {
	ch, client := startTestChannel(t)

	client.Close()

	select {
	case _, ok := <-ch.Receive():
		if ok {
			t.Error("expected closed receive channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel did not close on disconnect")
	}

	if err := ch.Send(context.Background(), Envelope{Type: EnvelopeText}); err == nil {
		t.Error("send after disconnect should fail")
	}
}
