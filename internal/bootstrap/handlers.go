package bootstrap

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/seeme-labs/tutor-bridge/internal/bridge"
	"github.com/seeme-labs/tutor-bridge/internal/gateway"
	"github.com/seeme-labs/tutor-bridge/internal/health"
	"github.com/seeme-labs/tutor-bridge/internal/ledger"
	"github.com/seeme-labs/tutor-bridge/internal/notes"
	"github.com/seeme-labs/tutor-bridge/internal/observability"
	"github.com/seeme-labs/tutor-bridge/internal/upstream"
)

func ProvideGatewayHandler(
	supervisor *bridge.Supervisor,
	dialer upstream.Dialer,
	ledgerStore *ledger.Store,
	notesStore *notes.Store,
	metrics *observability.Metrics,
	prompt SystemPrompt,
	cfg *Config,
	log *slog.Logger,
) *gateway.Handler {
	return gateway.NewHandler(supervisor, dialer, ledgerStore, ledgerStore, notesStore, metrics, gateway.Config{
		AccessCode:        cfg.AccessCode,
		SystemPrompt:      string(prompt),
		Model:             cfg.GeminiModel,
		IdleTimeout:       cfg.SessionIdleTimeout,
		MaxDuration:       cfg.SessionMaxDuration,
		ConnectsPerMinute: cfg.ConnectsPerMinute,
	}, log)
}

func ProvideHealthHandler(db *gorm.DB, redisClient *redis.Client, supervisor *bridge.Supervisor, cfg *Config) *health.Handler {
	return health.NewHandler(db, redisClient, supervisor, cfg.Version)
}

type HandlerParams struct {
	fx.In

	GatewayHandler *gateway.Handler
	HealthHandler  *health.Handler
	Registry       *prometheus.Registry
	Config         *Config
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	params.GatewayHandler.Register(e)
	params.HealthHandler.RegisterRoutes(e)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{})))

	e.Static("/assets", params.Config.StaticDir)
	e.GET("/", func(c echo.Context) error {
		return c.File(params.Config.IndexHTML)
	})
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideGatewayHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)
