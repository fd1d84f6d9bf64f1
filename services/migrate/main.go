// Command migrate runs the batch data migrations outside the HTTP API. It honours the same
// ALLOW_MIGRATIONS gate as the API and can be rerun safely after an interruption.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/startup"
)

func main() {
	logger.SetPrefix("migrate")
	job := flag.String("job", model.JobLastMessages, "job to run: last-messages | permissions | report")
	product := flag.String("product", "", "product scope for the permissions job")
	conversations := flag.String("conversations", "", "comma-separated conversation ids for the permissions job")
	permissions := flag.String("permissions", "[]", `permission set for the permissions job, JSON: [{"action":"..","subject":".."}]`)
	reportOf := flag.String("report-job", model.JobLastMessages, "job whose last report to print with -job report")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	os.Exit(run(cfg, *job, *product, *conversations, *permissions, *reportOf))
}

func run(cfg *config.Config, job, product, conversations, permissions, reportOf string) int {
	defer logger.Flush()

	if job != "report" {
		if err := service.RequireMigrations(cfg.Migrations); err != nil {
			logger.Errorf("%v (set ALLOW_MIGRATIONS=true)", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := startup.OpenStores(ctx, cfg, "migrate: ")
	if err != nil {
		logger.Errorf("open stores: %v", err)
		return 1
	}
	defer stores.Close()
	migrator := service.NewMigrator(stores.Messages, stores.Conversations, stores.Reports, cfg.Migrations)

	var (
		result *model.MigrationResult
		out    any
	)
	switch job {
	case model.JobLastMessages:
		result, err = migrator.MigrateLastMessages(ctx)
	case model.JobPermissions:
		var perms []model.Permission
		if err := json.Unmarshal([]byte(permissions), &perms); err != nil {
			logger.Errorf("parse -permissions: %v", err)
			return 2
		}
		result, err = migrator.MigratePermissions(ctx, perms, product, strings.Split(conversations, ","))
	case "report":
		var report *model.MigrationReport
		if report, err = migrator.LastReport(ctx, reportOf); report != nil {
			out = report
		}
	default:
		logger.Errorf("unknown job %q", job)
		return 2
	}
	if result != nil {
		out = result
	}

	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil {
			logger.Errorf("encode result: %v", encErr)
		}
	}
	if err != nil {
		logger.Errorf("%s: %v", job, err)
		return 1
	}
	if result != nil && result.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%d conversation(s) failed, rerun the job to retry them\n", result.Failed)
		return 3
	}
	return 0
}
