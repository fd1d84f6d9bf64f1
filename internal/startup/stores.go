package startup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/repository"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/storage/memory"
)

// Stores — набор хранилищ, с которыми работает сервис. Close освобождает всё, что было открыто.
type Stores struct {
	Messages      storage.MessageStore
	Conversations storage.ConversationStore
	Reports       storage.ReportStore
	closers       []func()
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// MemoryStores держит всё в памяти процесса (для локального запуска без БД).
func MemoryStores() *Stores {
	return &Stores{
		Messages:      memory.NewMessageStore(),
		Conversations: memory.NewConversationStore(),
		Reports:       memory.NewReportStore(),
	}
}

// OpenStores подключает PostgreSQL (и Redis для отчётов, если задан REDIS_URL) и применяет схему.
func OpenStores(ctx context.Context, cfg *config.Config, logPrefix string) (*Stores, error) {
	pool, err := ConnectDB(ctx, cfg.Database, 60*time.Second, logPrefix)
	if err != nil {
		return nil, err
	}
	s := &Stores{closers: []func(){pool.Close}}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := RunMigrations(migrateCtx, pool); err != nil {
		s.Close()
		return nil, err
	}
	logger.Infof("%sdatabase connected, schema applied", logPrefix)

	s.Messages = repository.NewMessageRepository(pool)
	s.Conversations = repository.NewConversationRepository(pool)

	if cfg.Redis.URL == "" {
		logger.Infof("%sREDIS_URL is empty, migration reports are kept in memory", logPrefix)
		s.Reports = memory.NewReportStore()
		return s, nil
	}
	rdb, err := ConnectRedis(ctx, cfg.Redis.URL, 30*time.Second, logPrefix)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Errorf("%sredis close: %v", logPrefix, err)
		}
	})
	s.Reports = rdb
	return s, nil
}

const (
	embeddedPort     = 5432
	embeddedUser     = "chatcore"
	embeddedPassword = "chatcore_secret"
	embeddedDatabase = "chatcore"
)

// StartEmbeddedPostgres поднимает PostgreSQL в процессе (флаг -dev) и переключает cfg.Database.URL на него.
func StartEmbeddedPostgres(cfg *config.Config, dataDir string) (*embeddedpostgres.EmbeddedPostgres, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(embeddedPort).
			Username(embeddedUser).
			Password(embeddedPassword).
			Database(embeddedDatabase).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "chatcore-embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start embedded postgres: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		embeddedUser, embeddedPassword, embeddedPort, embeddedDatabase,
	)
	logger.Infof("embedded PostgreSQL running on port %d", embeddedPort)
	return db, nil
}
