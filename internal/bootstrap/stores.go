package bootstrap

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/seeme-labs/tutor-bridge/internal/ledger"
	"github.com/seeme-labs/tutor-bridge/internal/notes"
)

func ProvideLedgerStore(db *gorm.DB, log *slog.Logger) *ledger.Store {
	return ledger.NewStore(db, log)
}

func ProvideNotesStore(redisClient *redis.Client, log *slog.Logger) *notes.Store {
	return notes.NewStore(redisClient, log)
}

func RunMigrations(ledgerStore *ledger.Store) error {
	return ledgerStore.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideLedgerStore,
		ProvideNotesStore,
	),
	fx.Invoke(RunMigrations),
)
