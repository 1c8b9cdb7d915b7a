package media

import (
	"sync"
	"time"
)

// Model audio comes back as 16-bit mono PCM at 24 kHz.
const (
	OutputSampleRate     = 24000
	bytesPerSample       = 2
	outputBytesPerSecond = OutputSampleRate * bytesPerSample
)

// Scheduler tracks how far ahead of real time the client's playback
// buffer extends. Audio chunks are forwarded faster than they play, so
// on interruption the span between now and the buffered end is exactly
// the audio the client must discard.
type Scheduler struct {
	mu        sync.Mutex
	bufferEnd time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// PCMDuration converts a chunk size in bytes to its playback duration.
func PCMDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / outputBytesPerSecond
}

// Schedule accounts for a chunk of n bytes arriving at now and returns
// the instant it will begin playing on the client.
func (s *Scheduler) Schedule(n int, now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := now
	if s.bufferEnd.After(now) {
		start = s.bufferEnd
	}
	s.bufferEnd = start.Add(PCMDuration(n))
	return start
}

// Backlog reports how much scheduled audio has not yet played.
func (s *Scheduler) Backlog(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bufferEnd.After(now) {
		return s.bufferEnd.Sub(now)
	}
	return 0
}

// Interrupt clears the buffered tail and returns the duration of audio
// the client is being told to discard.
func (s *Scheduler) Interrupt(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bufferEnd.After(now) {
		return 0
	}
	discarded := s.bufferEnd.Sub(now)
	s.bufferEnd = now
	return discarded
}
