package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
)

// QuotaAPI fetches the remaining allowance. Implemented by [services.Client].
type QuotaAPI interface {
	Quota(ctx context.Context) (*models.Quota, error)
}

// QuotaGate checks the remaining allowance before each generation.
type QuotaGate struct {
	API QuotaAPI
}

// CheckQuota fails with [shared.ErrQuotaExceeded] when fewer than count units remain.
// A negative limit means unlimited.
func (q QuotaGate) CheckQuota(ctx context.Context, kind models.Kind, count int) error {
	quota, err := q.API.Quota(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch quota: %w", err)
	}
	if quota.Limit < 0 {
		return nil
	}
	if quota.Remaining < count {
		return fmt.Errorf("%w: %s needs %d, %d remaining", shared.ErrQuotaExceeded, kind, count, quota.Remaining)
	}
	return nil
}

// NotifyQuotaWarnings turns quota_warning push events into warnings. The returned function unsubscribes.
func NotifyQuotaWarnings(sub Subscriber, n Notifier) func() {
	return sub.On(models.EventQuotaWarning, func(env models.Envelope) {
		var w models.QuotaWarning
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return
		}
		msg := w.Message
		if msg == "" {
			msg = fmt.Sprintf("Quota running low: %d of %d remaining", w.Remaining, w.Limit)
		}
		n.Warn(msg)
	})
}

// LogNotifier writes notifications to a logger. Used when no UI is attached.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Success(msg string) { l.logger().Info(msg) }
func (l LogNotifier) Error(msg string) { l.logger().Error(msg) }
func (l LogNotifier) Warn(msg string) { l.logger().Warn(msg) }

func (l LogNotifier) logger() *log.Logger { return shared.WithLogger(l.Logger) }
