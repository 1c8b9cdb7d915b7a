package upstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/seeme-labs/tutor-bridge/internal/shared"
)

const (
	audioInMIME  = "audio/pcm;rate=16000"
	videoInMIME  = "image/jpeg"
	eventBufSize = 256

	toolDispatchTimeout = 30 * time.Second
)

// GeminiDialer starts Gemini Live sessions through the genai SDK.
type GeminiDialer struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

func NewGeminiDialer(ctx context.Context, apiKey, model string, log *slog.Logger) (*GeminiDialer, error) {
	if log == nil {
		log = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	return &GeminiDialer{
		client: client,
		model:  model,
		log:    log.With("component", "gemini_dialer"),
	}, nil
}

func (d *GeminiDialer) Start(ctx context.Context, cfg Config) (Peer, error) {
	model := cfg.Model
	if model == "" {
		model = d.model
	}

	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		SystemInstruction:        &genai.Content{Parts: []*genai.Part{{Text: buildInstruction(cfg)}}},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Tools != nil {
		if decls := buildFunctionDeclarations(cfg.Tools.Specs()); len(decls) > 0 {
			connectCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		}
	}

	session, err := d.client.Live.Connect(ctx, model, connectCfg)
	if err != nil {
		return nil, err
	}

	p := &geminiPeer{
		session: session,
		tools:   cfg.Tools,
		events:  make(chan ResponseEvent, eventBufSize),
		done:    make(chan struct{}),
		log:     d.log.With("component", "gemini_peer"),
	}
	go p.receiveLoop()

	return p, nil
}

// buildInstruction folds the optional prior-session context into the
// system prompt, the only place the vendor accepts it before media flows.
func buildInstruction(cfg Config) string {
	var b strings.Builder
	b.WriteString(cfg.SystemPrompt)

	if cfg.DisplayLabel != "" {
		b.WriteString("\n\nYou are speaking with ")
		b.WriteString(cfg.DisplayLabel)
		b.WriteString(".")
	}
	if len(cfg.PriorNotes) > 0 {
		b.WriteString("\n\nNotes from previous sessions:")
		for _, note := range cfg.PriorNotes {
			b.WriteString("\n- ")
			b.WriteString(note)
		}
	}
	return b.String()
}

func buildFunctionDeclarations(specs []ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		properties := make(map[string]*genai.Schema, len(spec.Params))
		required := make([]string, 0, len(spec.Params))
		for _, p := range spec.Params {
			properties[p.Name] = &genai.Schema{
				Type:        genai.TypeString,
				Description: p.Description,
			}
			required = append(required, p.Name)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return decls
}

type geminiPeer struct {
	session *genai.Session
	tools   *ToolRegistry
	events  chan ResponseEvent
	done    chan struct{}
	log     *slog.Logger

	// generation is only advanced by the receive loop.
	generation int64

	writeMu  sync.Mutex
	stopOnce sync.Once
	stopped  bool
}

func (p *geminiPeer) SendAudio(data []byte) error {
	return p.sendRealtime(&genai.Blob{Data: data, MIMEType: audioInMIME})
}

func (p *geminiPeer) SendVideo(data []byte) error {
	return p.sendRealtime(&genai.Blob{Data: data, MIMEType: videoInMIME})
}

func (p *geminiPeer) sendRealtime(blob *genai.Blob) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.stopped {
		return shared.ErrPeerClosed
	}
	return p.session.SendRealtimeInput(genai.LiveRealtimeInput{Media: blob})
}

func (p *geminiPeer) Events() <-chan ResponseEvent {
	return p.events
}

func (p *geminiPeer) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.writeMu.Lock()
		p.stopped = true
		p.writeMu.Unlock()
		close(p.done)
		err = p.session.Close()
	})
	return err
}

func (p *geminiPeer) receiveLoop() {
	defer close(p.events)

	for {
		msg, err := p.session.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			p.writeMu.Lock()
			stopped := p.stopped
			p.writeMu.Unlock()
			if stopped {
				return
			}
			p.emitControl(ResponseEvent{Type: EventError, Err: err, Fatal: true})
			return
		}
		p.translate(msg)
	}
}

// translate maps one vendor message to zero or more ResponseEvents.
// Interruption is checked before content so stale audio riding the same
// message never slips through with a fresh generation.
func (p *geminiPeer) translate(msg *genai.LiveServerMessage) {
	if msg == nil {
		return
	}

	if msg.ToolCall != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			p.handleToolCall(call)
		}
		return
	}

	sc := msg.ServerContent
	if sc == nil {
		if msg.SetupComplete != nil {
			return
		}
		p.log.Warn("unrecognized upstream message, dropping")
		p.emit(ResponseEvent{Type: EventError, Err: errors.New("unrecognized upstream message")})
		return
	}

	if sc.Interrupted {
		p.emitControl(ResponseEvent{Type: EventInterrupted, Generation: p.generation})
		p.generation++
		return
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				p.emit(ResponseEvent{
					Type:       EventAudioDelta,
					Audio:      part.InlineData.Data,
					Generation: p.generation,
				})
				continue
			}
			if part.Text != "" {
				p.emit(ResponseEvent{
					Type:       EventTranscript,
					Text:       part.Text,
					Generation: p.generation,
				})
			}
		}
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		p.emit(ResponseEvent{
			Type:       EventTranscript,
			Text:       sc.OutputTranscription.Text,
			Generation: p.generation,
		})
	}

	if sc.TurnComplete {
		p.emitControl(ResponseEvent{Type: EventTurnComplete, Generation: p.generation})
		p.generation++
	}
}

func (p *geminiPeer) handleToolCall(call *genai.FunctionCall) {
	if call == nil {
		return
	}
	p.emit(ResponseEvent{Type: EventToolCall, ToolName: call.Name, Generation: p.generation})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), toolDispatchTimeout)
		defer cancel()

		var result map[string]any
		if p.tools != nil {
			result = p.tools.Dispatch(ctx, call.Name, call.Args)
		} else {
			result = map[string]any{"result": "error", "detail": "no tools registered"}
		}

		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		if p.stopped {
			return
		}
		err := p.session.SendToolResponse(genai.LiveToolResponseInput{
			FunctionResponses: []*genai.FunctionResponse{{
				ID:       call.ID,
				Name:     call.Name,
				Response: result,
			}},
		})
		if err != nil {
			p.log.Error("failed to send tool response", "tool", call.Name, "error", err)
		}
	}()
}

// emit queues a delta event. When the bridge has stalled and the buffer
// is full the event is dropped so the vendor read loop stays alive;
// audio and transcript chunks can afford that.
func (p *geminiPeer) emit(ev ResponseEvent) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("event buffer full, dropping", "type", ev.Type)
	}
}

// emitControl blocks until the event is queued or the peer stops. Turn
// boundaries and fatal errors must reach the bridge even under buffer
// pressure, otherwise a stalled consumer would replay audio from a
// preempted turn as if it were still current.
func (p *geminiPeer) emitControl(ev ResponseEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}
