package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/audit"
	"github.com/aegisflow/aegis/internal/channel"
	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/memory"
	"github.com/aegisflow/aegis/internal/metrics"
)

// loadApprovalService opens the queue with the configured notification
// channels attached. The caller owns closing the returned store.
func loadApprovalService(ctx context.Context, cfg *config.Config) (*approval.Service, *approval.SQLiteStore, error) {
	store, err := approval.NewSQLiteStore(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, nil, err
	}

	svc := approval.NewService(store, buildDispatcher(cfg))
	if cfg.Approval.TTLHours > 0 {
		svc.SetTTL(approvalTTL(cfg))
	}
	svc.SetAuditWriter(audit.NewWriter(config.ConfigDir()))
	return svc, store, nil
}

// buildDispatcher registers every configured channel. Misconfigured
// channels are skipped with a printed warning so one bad credential
// does not take the CLI down.
func buildDispatcher(cfg *config.Config) *channel.Dispatcher {
	d := channel.NewDispatcher()
	d.SetRuntimeMetrics(metrics.NewRuntimeMetrics(config.ConfigDir()))

	if cfg.Channels.Telegram.Enabled {
		ch, err := channel.NewTelegram(cfg.Channels.Telegram)
		if err != nil {
			fmt.Printf("Warning: telegram channel disabled: %v\n", err)
		} else {
			d.Register(ch)
		}
	}
	if cfg.Channels.Slack.Enabled {
		ch, err := channel.NewSlack(cfg.Channels.Slack)
		if err != nil {
			fmt.Printf("Warning: slack channel disabled: %v\n", err)
		} else {
			d.Register(ch)
		}
	}
	if cfg.Channels.Webhook.Enabled {
		ch, err := channel.NewWebhook(cfg.Channels.Webhook)
		if err != nil {
			fmt.Printf("Warning: webhook channel disabled: %v\n", err)
		} else {
			d.Register(ch)
		}
	}
	return d
}

func loadMemoryStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	if cfg.Database.Driver == "postgres" {
		return memory.NewPostgresStore(ctx, cfg.Database.DSN)
	}
	return memory.NewSQLiteStore(ctx, cfg.DatabasePath())
}

func rulesPath() string {
	return filepath.Join(config.ConfigDir(), "state", "rules.json")
}

func approvalTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Approval.TTLHours) * time.Hour
}
