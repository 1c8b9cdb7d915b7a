package media

import (
	"testing"
	"time"
)

func TestPCMDuration(t *testing.T) {
	// One second of 24 kHz 16-bit mono.
	if got := PCMDuration(48000); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
	if got := PCMDuration(24000); got != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", got)
	}
}

func TestScheduler_FirstChunkPlaysImmediately(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	if start := s.Schedule(4800, now); !start.Equal(now) {
		t.Errorf("expected immediate start, got %v", start.Sub(now))
	}
}

func TestScheduler_ChunksQueueBackToBack(t *testing.T) {
	s := NewScheduler()
	now := time.Now()

	s.Schedule(48000, now) // 1s of audio
	second := s.Schedule(48000, now)

	if want := now.Add(time.Second); !second.Equal(want) {
		t.Errorf("second chunk should start after the first, got offset %v", second.Sub(now))
	}
	if backlog := s.Backlog(now); backlog != 2*time.Second {
		t.Errorf("expected 2s backlog, got %v", backlog)
	}
}

func TestScheduler_InterruptReturnsDiscardedAudio(t *testing.T) {
	s := NewScheduler()
	now := time.Now()
	s.Schedule(48000, now)

	discarded := s.Interrupt(now.Add(250 * time.Millisecond))
	if discarded != 750*time.Millisecond {
		t.Errorf("expected 750ms discarded, got %v", discarded)
	}
	if backlog := s.Backlog(now.Add(250 * time.Millisecond)); backlog != 0 {
		t.Errorf("expected empty backlog after interrupt, got %v", backlog)
	}
}

func TestScheduler_InterruptWithEmptyBuffer(t *testing.T) {
	s := NewScheduler()
	if discarded := s.Interrupt(time.Now()); discarded != 0 {
		t.Errorf("expected nothing discarded, got %v", discarded)
	}
}

func TestScheduler_BufferDrainsOverTime(t *testing.T) {
	s := NewScheduler()
	now := time.Now()
	s.Schedule(48000, now)

	if backlog := s.Backlog(now.Add(2 * time.Second)); backlog != 0 {
		t.Errorf("expected drained buffer, got %v", backlog)
	}

	// A chunk arriving after the buffer drained starts fresh.
	late := now.Add(3 * time.Second)
	if start := s.Schedule(4800, late); !start.Equal(late) {
		t.Errorf("expected immediate start after drain, got offset %v", start.Sub(late))
	}
}
