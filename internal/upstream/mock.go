package upstream

import (
	"context"
	"sync"

	"github.com/seeme-labs/tutor-bridge/internal/shared"
)

// MockPeer is a scriptable Peer for tests. Push events onto it with Emit
// and finish the stream with Finish.
type MockPeer struct {
	mu         sync.Mutex
	events     chan ResponseEvent
	stopped    bool
	AudioSent  [][]byte
	VideoSent  [][]byte
	SendErr    error
	StopCalled bool
}

func NewMockPeer() *MockPeer {
	return &MockPeer{events: make(chan ResponseEvent, eventBufSize)}
}

func (m *MockPeer) SendAudio(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return shared.ErrPeerClosed
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.AudioSent = append(m.AudioSent, data)
	return nil
}

func (m *MockPeer) SendVideo(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return shared.ErrPeerClosed
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.VideoSent = append(m.VideoSent, data)
	return nil
}

func (m *MockPeer) Events() <-chan ResponseEvent {
	return m.events
}

func (m *MockPeer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalled = true
	m.stopped = true
	return nil
}

// Emit delivers one event to the consumer. Blocks if the buffer is full.
func (m *MockPeer) Emit(ev ResponseEvent) {
	m.events <- ev
}

// Finish closes the event stream, simulating upstream end-of-session.
func (m *MockPeer) Finish() {
	close(m.events)
}

func (m *MockPeer) AudioCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AudioSent)
}

func (m *MockPeer) VideoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.VideoSent)
}

// MockDialer hands out a prepared peer, or fails with StartErr.
type MockDialer struct {
	mu        sync.Mutex
	Peer      *MockPeer
	StartErr  error
	LastCfg   Config
	StartedAt int
}

func NewMockDialer(peer *MockPeer) *MockDialer {
	return &MockDialer{Peer: peer}
}

func (d *MockDialer) Start(ctx context.Context, cfg Config) (Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LastCfg = cfg
	d.StartedAt++
	if d.StartErr != nil {
		return nil, d.StartErr
	}
	return d.Peer, nil
}
