package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seeme-labs/tutor-bridge/internal/media"
	"github.com/seeme-labs/tutor-bridge/internal/observability"
	"github.com/seeme-labs/tutor-bridge/internal/shared"
	"github.com/seeme-labs/tutor-bridge/internal/transport"
	"github.com/seeme-labs/tutor-bridge/internal/upstream"
)

const (
	contextLookupTimeout = 2 * time.Second
	ledgerWriteTimeout   = 5 * time.Second
	clientSendTimeout    = 5 * time.Second
	statsInterval        = 10 * time.Second
	idleCheckInterval    = 5 * time.Second
	videoQueueSize       = 16
)

// Ledger persists the start and end of every session.
type Ledger interface {
	RecordStart(ctx context.Context, sessionID, contextID, clientHash string, startedAt time.Time) error
	RecordEnd(ctx context.Context, sessionID string, endedAt time.Time, reason, language string) error
}

// ContextInfo is what the bridge knows about a returning student before
// the upstream session starts.
type ContextInfo struct {
	DisplayLabel string
	PriorNotes   []string
	// Consented reports whether this student already acknowledged
	// recording in an earlier session.
	Consented bool
}

// ContextSource supplies notes from previous sessions and accepts new
// ones. A failing source degrades the session, never blocks it.
type ContextSource interface {
	Context(ctx context.Context, contextID string) (ContextInfo, error)
	SetDisplayLabel(ctx context.Context, contextID, label string) error
	SaveNote(ctx context.Context, contextID, text string) (string, error)
	RecordConsent(ctx context.Context, contextID string) error
}

type SessionConfig struct {
	ID           string
	ContextID    string
	ClientHash   string
	DisplayLabel string
	SystemPrompt string
	Model        string
	IdleTimeout  time.Duration
	MaxDuration  time.Duration
}

// Session relays media between one client channel and one upstream
// model session, enforcing the lifecycle state machine along the way.
type Session struct {
	cfg     SessionConfig
	ch      transport.Channel
	dialer  upstream.Dialer
	ledger  Ledger
	notes   ContextSource
	metrics *observability.Metrics
	log     *slog.Logger

	machine *machine
	sched   *media.Scheduler
	rate    *media.RateController

	peer    upstream.Peer
	videoCh chan []byte

	startedAt time.Time
	// staleGen marks the newest generation whose audio must be
	// discarded. -1 means nothing is stale.
	staleGen      atomic.Int64
	lastInputNano atomic.Int64
	interruptedAt atomic.Int64

	audioInBytes   atomic.Int64
	videoFrames    atomic.Int64
	lastVideoNano  atomic.Int64
	firstAudioOnce sync.Once

	// detectedLanguage is written only by the outbound loop and read
	// after the loops have been joined.
	detectedLanguage string

	wg        sync.WaitGroup
	endOnce   sync.Once
	endCh     chan struct{}
	done      chan struct{}
	endReason EndReason
	endErr    error
}

func NewSession(
	cfg SessionConfig,
	ch transport.Channel,
	dialer upstream.Dialer,
	ledger Ledger,
	notes ContextSource,
	metrics *observability.Metrics,
	log *slog.Logger,
) *Session {
	s := &Session{
		cfg:     cfg,
		ch:      ch,
		dialer:  dialer,
		ledger:  ledger,
		notes:   notes,
		metrics: metrics,
		log:     log.With("component", "session", "session_id", cfg.ID),
		machine: newMachine(),
		sched:   media.NewScheduler(),
		rate:    media.NewRateController(),
		videoCh: make(chan []byte, videoQueueSize),
		endCh:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.staleGen.Store(-1)
	return s
}

func (s *Session) ID() string { return s.cfg.ID }

func (s *Session) State() State { return s.machine.Current() }

// Done closes once the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the session to completion. It returns once the channel is
// closed, the ledger updated, and the state machine terminal.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	s.startedAt = time.Now()
	s.lastInputNano.Store(s.startedAt.UnixNano())
	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	s.log.Info("session connecting", "context_id", s.cfg.ContextID)

	info := s.lookupContext(ctx)
	s.recordStart()

	peer, err := s.dialer.Start(ctx, upstream.Config{
		Model:        s.cfg.Model,
		SystemPrompt: s.cfg.SystemPrompt,
		DisplayLabel: info.DisplayLabel,
		PriorNotes:   info.PriorNotes,
		Tools:        s.buildTools(),
	})
	if err != nil {
		s.log.Error("upstream connect failed", "error", err)
		s.sendErrorToClient("upstream_error", "could not reach the tutor, please try again")
		s.finish(EndUpstreamError, err)
		s.teardown()
		return err
	}
	s.peer = peer

	if err := s.machine.transition(StateActive); err != nil {
		s.finish(EndInternalError, err)
		s.teardown()
		return err
	}
	s.log.Info("session active", "consent_on_file", info.Consented)

	s.wg.Add(4)
	go s.inboundLoop()
	go s.outboundLoop()
	go s.videoLoop()
	go s.watchTimers()

	select {
	case <-ctx.Done():
		s.sendErrorToClient("server_shutdown", "server is shutting down")
		s.finish(EndShutdown, shared.ErrShuttingDown)
	case <-s.endCh:
	}

	s.teardown()
	return s.endErr
}

// finish latches the end reason. The first caller wins.
func (s *Session) finish(reason EndReason, err error) {
	s.endOnce.Do(func() {
		s.endReason = reason
		s.endErr = err
		close(s.endCh)
	})
}

func (s *Session) teardown() {
	<-s.endCh

	if err := s.machine.transition(StateEnding); err != nil {
		s.log.Warn("teardown from unexpected state", "state", s.machine.Current().String())
	}
	if s.peer != nil {
		if err := s.peer.Stop(); err != nil {
			s.log.Warn("upstream close failed", "error", err)
		}
	}
	if err := s.ch.Close(string(s.endReason)); err != nil && !errors.Is(err, shared.ErrChannelClosed) {
		s.log.Warn("channel close failed", "error", err)
	}
	s.wg.Wait()

	endedAt := s.machine.EndedAt()
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	s.recordEnd(endedAt)

	duration := endedAt.Sub(s.startedAt)
	s.metrics.SessionsTotal.WithLabelValues(string(s.endReason)).Inc()
	s.metrics.SessionDuration.Observe(duration.Seconds())

	if s.endErr != nil {
		_ = s.machine.transition(StateFailed)
	} else {
		_ = s.machine.transition(StateClosed)
	}

	s.log.Info("session closed",
		"reason", string(s.endReason),
		"duration_s", duration.Seconds(),
		"audio_in_bytes", s.audioInBytes.Load(),
		"video_frames", s.videoFrames.Load(),
	)
}

// lookupContext loads the student's stored label and prior notes. A
// label supplied on this connection wins and is written back for next
// time.
func (s *Session) lookupContext(ctx context.Context) ContextInfo {
	if s.cfg.ContextID == "" {
		return ContextInfo{DisplayLabel: s.cfg.DisplayLabel}
	}
	lookupCtx, cancel := context.WithTimeout(ctx, contextLookupTimeout)
	defer cancel()

	info, err := s.notes.Context(lookupCtx, s.cfg.ContextID)
	if err != nil {
		// The session still starts, just without memory of past visits.
		s.log.Warn("context lookup failed", "error", err)
		return ContextInfo{DisplayLabel: s.cfg.DisplayLabel}
	}

	if s.cfg.DisplayLabel != "" && s.cfg.DisplayLabel != info.DisplayLabel {
		info.DisplayLabel = s.cfg.DisplayLabel
		contextID := s.cfg.ContextID
		label := s.cfg.DisplayLabel
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), contextLookupTimeout)
			defer cancel()
			if err := s.notes.SetDisplayLabel(saveCtx, contextID, label); err != nil {
				s.log.Warn("display label save failed", "error", err)
			}
		}()
	}
	return info
}

func (s *Session) buildTools() *upstream.ToolRegistry {
	tools := upstream.NewToolRegistry()
	tools.Register(upstream.ToolSpec{
		Name:        "save_note",
		Description: "Save a short note about the student's progress for future sessions.",
		Params: []upstream.ToolParam{
			{Name: "text", Description: "The note to save, one or two sentences."},
		},
	}, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		text, ok := args["text"].(string)
		if !ok || text == "" {
			return nil, fmt.Errorf("save_note requires a text argument")
		}
		id, err := s.notes.SaveNote(ctx, s.cfg.ContextID, text)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": "ok", "note_id": id}, nil
	})
	return tools
}

func (s *Session) inboundLoop() {
	defer s.wg.Done()

	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	var lastAudio, lastFrames int64
	for {
		select {
		case env, ok := <-s.ch.Receive():
			if !ok {
				s.finish(EndClientDisconnect, nil)
				return
			}
			s.handleEnvelope(env)
		case <-stats.C:
			audio := s.audioInBytes.Load()
			frames := s.videoFrames.Load()
			s.log.Info("input stats",
				"audio_bytes", audio-lastAudio,
				"video_frames", frames-lastFrames,
				"frame_interval_ms", s.rate.Interval().Milliseconds(),
				"playback_backlog_ms", s.sched.Backlog(time.Now()).Milliseconds(),
			)
			lastAudio, lastFrames = audio, frames
		case <-s.endCh:
			return
		}
	}
}

func (s *Session) handleEnvelope(env transport.Envelope) {
	switch env.Type {
	case transport.EnvelopeAudio:
		payload, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			s.log.Warn("dropping undecodable audio frame", "error", err)
			return
		}
		if len(payload) == 0 {
			s.log.Warn("dropping empty audio frame")
			return
		}
		s.lastInputNano.Store(time.Now().UnixNano())
		s.audioInBytes.Add(int64(len(payload)))
		s.metrics.AudioInBytes.Add(float64(len(payload)))
		if err := s.peer.SendAudio(payload); err != nil {
			if !errors.Is(err, shared.ErrPeerClosed) {
				s.finish(EndUpstreamError, err)
			}
		}

	case transport.EnvelopeVideo:
		s.lastInputNano.Store(time.Now().UnixNano())
		s.acceptVideoFrame(env.Data)

	case transport.EnvelopeControl:
		s.handleControl(env)

	default:
		s.log.Warn("ignoring unexpected envelope", "type", string(env.Type))
	}
}

// acceptVideoFrame paces camera frames: frames arriving faster than the
// controller's interval are dropped, and queue depth feeds back into
// the controller so a slow upstream lowers the frame rate.
func (s *Session) acceptVideoFrame(data string) {
	now := time.Now()
	last := time.Unix(0, s.lastVideoNano.Load())
	if now.Sub(last) < s.rate.Interval() {
		s.metrics.FramesThrottled.Inc()
		return
	}

	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		s.log.Warn("dropping undecodable video frame", "error", err)
		return
	}

	select {
	case s.videoCh <- payload:
		s.lastVideoNano.Store(now.UnixNano())
		s.videoFrames.Add(1)
		s.metrics.VideoFrames.Inc()
		s.rate.Observe(len(s.videoCh))
	default:
		s.metrics.FramesThrottled.Inc()
		s.rate.Observe(videoQueueSize)
	}
}

func (s *Session) videoLoop() {
	defer s.wg.Done()
	for {
		select {
		case frame := <-s.videoCh:
			if err := s.peer.SendVideo(frame); err != nil {
				if !errors.Is(err, shared.ErrPeerClosed) {
					s.finish(EndUpstreamError, err)
				}
				return
			}
		case <-s.endCh:
			return
		}
	}
}

func (s *Session) handleControl(env transport.Envelope) {
	switch env.Reason {
	case transport.ControlEndSession:
		s.log.Info("student ended session")
		s.finish(EndNormal, nil)
	case transport.ControlConsentAck:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
			defer cancel()
			if err := s.notes.RecordConsent(ctx, s.cfg.ContextID); err != nil {
				s.log.Warn("consent record failed", "error", err)
			}
		}()
	case transport.ControlMicStop:
		s.log.Info("microphone muted by client")
	case transport.ControlCameraOff:
		s.log.Info("camera disabled by client")
	default:
		s.log.Warn("ignoring unknown control", "reason", env.Reason)
	}
}

func (s *Session) outboundLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.peer.Events():
			if !ok {
				select {
				case <-s.endCh:
				default:
					s.finish(EndUpstreamError, shared.ErrPeerClosed)
				}
				return
			}
			s.handleEvent(ev)
		case <-s.endCh:
			return
		}
	}
}

func (s *Session) handleEvent(ev upstream.ResponseEvent) {
	switch ev.Type {
	case upstream.EventAudioDelta:
		if s.dropIfStale(ev.Generation) {
			return
		}
		s.resumeIfInterrupted(ev.Generation)
		s.firstAudioOnce.Do(func() {
			latency := time.Since(s.startedAt)
			s.metrics.FirstResponseLatency.Observe(latency.Seconds())
			s.log.Info("first model audio", "latency_ms", latency.Milliseconds())
		})
		s.sched.Schedule(len(ev.Audio), time.Now())
		s.metrics.AudioOutBytes.Add(float64(len(ev.Audio)))
		s.sendToClient(transport.Envelope{
			Type: transport.EnvelopeAudio,
			Data: base64.StdEncoding.EncodeToString(ev.Audio),
		})

	case upstream.EventTranscript:
		if s.dropIfStale(ev.Generation) {
			return
		}
		s.resumeIfInterrupted(ev.Generation)
		if ev.Language != "" {
			s.detectedLanguage = ev.Language
		}
		s.sendToClient(transport.Envelope{Type: transport.EnvelopeText, Data: ev.Text})

	case upstream.EventTurnComplete:
		s.sendToClient(transport.Envelope{Type: transport.EnvelopeTurnComplete})

	case upstream.EventInterrupted:
		s.handleInterruption(ev)

	case upstream.EventToolCall:
		s.metrics.ToolCalls.WithLabelValues(ev.ToolName).Inc()
		s.log.Info("tool call", "tool", ev.ToolName)

	case upstream.EventError:
		if ev.Fatal {
			s.log.Error("upstream session failed", "error", ev.Err)
			s.sendErrorToClient("upstream_error", "the tutor connection was lost")
			s.finish(EndUpstreamError, ev.Err)
			return
		}
		s.log.Warn("upstream event error", "error", ev.Err)
	}
}

func (s *Session) handleInterruption(ev upstream.ResponseEvent) {
	if err := s.machine.transition(StateInterrupted); err != nil {
		// Already ending; the interruption no longer matters.
		return
	}
	s.staleGen.Store(ev.Generation)
	s.interruptedAt.Store(time.Now().UnixNano())

	discarded := s.sched.Interrupt(time.Now())
	s.metrics.Interruptions.Inc()
	s.metrics.DiscardedAudioSeconds.Add(discarded.Seconds())

	s.sendToClient(transport.Envelope{Type: transport.EnvelopeInterrupted})
	s.log.Info("model interrupted", "discarded_ms", discarded.Milliseconds(), "stale_generation", ev.Generation)
}

// dropIfStale suppresses output from a generation the speaker already
// interrupted. New generations flow through untouched.
func (s *Session) dropIfStale(generation int64) bool {
	stale := s.staleGen.Load()
	if stale < 0 || generation > stale {
		return false
	}
	s.metrics.StaleChunksDropped.Inc()
	return true
}

func (s *Session) resumeIfInterrupted(generation int64) {
	if s.machine.Current() != StateInterrupted {
		return
	}
	if err := s.machine.transition(StateActive); err != nil {
		return
	}
	if at := s.interruptedAt.Load(); at > 0 {
		latency := time.Since(time.Unix(0, at))
		s.metrics.InterruptionLatency.Observe(latency.Seconds())
		s.log.Info("resumed after interruption", "latency_ms", latency.Milliseconds(), "generation", generation)
	}
}

func (s *Session) watchTimers() {
	defer s.wg.Done()

	check := idleCheckInterval
	if s.cfg.IdleTimeout > 0 && s.cfg.IdleTimeout/4 < check {
		check = s.cfg.IdleTimeout / 4
	}
	idle := time.NewTicker(check)
	defer idle.Stop()

	var limitC <-chan time.Time
	if s.cfg.MaxDuration > 0 {
		limit := time.NewTimer(s.cfg.MaxDuration)
		defer limit.Stop()
		limitC = limit.C
	}

	for {
		select {
		case <-idle.C:
			if s.cfg.IdleTimeout <= 0 {
				continue
			}
			last := time.Unix(0, s.lastInputNano.Load())
			if time.Since(last) > s.cfg.IdleTimeout {
				s.log.Info("session idle, closing", "idle_s", time.Since(last).Seconds())
				s.sendErrorToClient("idle_timeout", "session closed after inactivity")
				s.finish(EndTimeout, nil)
				return
			}
		case <-limitC:
			s.log.Info("session reached maximum duration")
			s.sendToClient(transport.Envelope{Type: transport.EnvelopeSessionLimit})
			s.finish(EndTimeout, nil)
			return
		case <-s.endCh:
			return
		}
	}
}

func (s *Session) sendToClient(env transport.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), clientSendTimeout)
	defer cancel()
	if err := s.ch.Send(ctx, env); err != nil {
		if errors.Is(err, shared.ErrChannelClosed) {
			s.finish(EndClientDisconnect, nil)
			return
		}
		s.log.Warn("client send failed", "type", string(env.Type), "error", err)
	}
}

func (s *Session) sendErrorToClient(code, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientSendTimeout)
	defer cancel()
	_ = s.ch.Send(ctx, transport.Envelope{Type: transport.EnvelopeError, Code: code, Data: message})
}

// recordStart writes the ledger row without blocking session startup.
func (s *Session) recordStart() {
	startedAt := s.startedAt
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
		defer cancel()
		if err := s.ledger.RecordStart(ctx, s.cfg.ID, s.cfg.ContextID, s.cfg.ClientHash, startedAt); err != nil {
			s.metrics.LedgerErrors.Inc()
			s.log.Error("ledger start write failed", "error", err)
		}
	}()
}

func (s *Session) recordEnd(endedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()
	if err := s.ledger.RecordEnd(ctx, s.cfg.ID, endedAt, string(s.endReason), s.detectedLanguage); err != nil {
		s.metrics.LedgerErrors.Inc()
		s.log.Error("ledger end write failed", "error", err)
	}
}
