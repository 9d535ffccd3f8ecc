package postgres

import (
	"context"
	"log/slog"

	"github.com/bouncehq/bookingpay/internal/notify"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FailureLog appends delivery failures to the notification_failures audit
// table. Rows are never updated or deleted.
type FailureLog struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewFailureLog(log *slog.Logger, pool *pgxpool.Pool) *FailureLog {
	return &FailureLog{log: log, pool: pool}
}

func (l *FailureLog) Record(ctx context.Context, f notify.FailureRecord) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO notification_failures (id, channel, recipient, subject, preview, error, order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		f.ID, f.Channel, f.Recipient, f.Subject, f.Preview, f.Error, f.OrderID, f.CreatedAt)
	return err
}
