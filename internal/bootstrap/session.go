package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"

	"github.com/seeme-labs/tutor-bridge/internal/bridge"
	"github.com/seeme-labs/tutor-bridge/internal/upstream"
)

const defaultSystemPrompt = `You are a friendly, patient tutor for school-age students.
You can see the student's camera and hear their microphone.
Keep your answers short and conversational, ask guiding questions
instead of giving answers away, and encourage the student when they
make progress. When you learn something worth remembering about the
student's progress, save a note with the save_note tool.`

// ProvideSystemPrompt loads the instruction from the configured file,
// falling back to the built-in prompt.
func ProvideSystemPrompt(cfg *Config, log *slog.Logger) SystemPrompt {
	if cfg.SystemPromptPath == "" {
		return SystemPrompt(defaultSystemPrompt)
	}
	data, err := os.ReadFile(cfg.SystemPromptPath)
	if err != nil {
		log.Warn("system prompt file unreadable, using built-in prompt",
			"path", cfg.SystemPromptPath, "error", err)
		return SystemPrompt(defaultSystemPrompt)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return SystemPrompt(defaultSystemPrompt)
	}
	return SystemPrompt(prompt)
}

// SystemPrompt keeps the instruction distinct from other strings in the
// fx graph.
type SystemPrompt string

func ProvideDialer(cfg *Config, log *slog.Logger) (upstream.Dialer, error) {
	return upstream.NewGeminiDialer(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, log)
}

func ProvideSupervisor(lc fx.Lifecycle, cfg *Config, log *slog.Logger) *bridge.Supervisor {
	supervisor := bridge.NewSupervisor(cfg.MaxSessions, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			drainCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownGrace)
			defer cancel()
			return supervisor.Shutdown(drainCtx)
		},
	})
	return supervisor
}

var SessionModule = fx.Options(
	fx.Provide(
		ProvideSystemPrompt,
		ProvideDialer,
		ProvideSupervisor,
	),
)
