package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/handler"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/startup"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply the database schema and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep everything in process memory (no database at all)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Flush()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev && !*inMemory {
		var err error
		embeddedDB, err = startup.StartEmbeddedPostgres(cfg, filepath.Join(".", ".pgdata"))
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			logger.Flush()
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	var stores *startup.Stores
	if *inMemory {
		logger.Info("using in-memory stores, data is lost on exit")
		stores = startup.MemoryStores()
	} else {
		var err error
		stores, err = startup.OpenStores(context.Background(), cfg, "")
		if err != nil {
			logger.Errorf("open stores: %v", err)
			if embeddedDB != nil {
				_ = embeddedDB.Stop()
			}
			logger.Flush()
			os.Exit(1)
		}
	}
	defer stores.Close()
	if *migrate {
		return
	}

	msgSvc := service.NewMessageService(stores.Messages, stores.Conversations)
	convSvc := service.NewConversationService(stores.Conversations)
	agg := service.NewAggregator(stores.Messages)
	unread := service.NewUnreadCounter(stores.Messages, stores.Conversations)
	migrator := service.NewMigrator(stores.Messages, stores.Conversations, stores.Reports, cfg.Migrations)

	msgH := handler.NewMessageHandler(msgSvc, agg, unread, cfg.MaxWindow())
	convH := handler.NewConversationHandler(convSvc)
	migH := handler.NewMigrationHandler(migrator, cfg.Migrations)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(metrics.HTTP)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.APIKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))
		msgH.Register(r)
		convH.Register(r)
		migH.Register(r)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			logger.Flush()
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}
