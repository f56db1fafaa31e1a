package di

import (
	"context"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/messaging"
	emailsvc "github.com/liceojbh/intranet/services/email"
	filesvc "github.com/liceojbh/intranet/services/files"
	ratelimitsvc "github.com/liceojbh/intranet/services/ratelimit"
	"github.com/liceojbh/intranet/storage/database"
	sqlxrepos "github.com/liceojbh/intranet/storage/database/sqlx"
)

// Reaper drops expired rate limit windows.
type Reaper interface {
	Reap(ctx context.Context) (int, error)
}

// PostgresBackend is the production backend. Close releases the redis client when one was opened.
type PostgresBackend struct {
	Backend
	Reaper Reaper // nil when windows expire on their own
	closer io.Closer
}

func (b *PostgresBackend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// NewPostgresBackend wires the sqlx repositories on db with the configured limiter, disk storage and mailer.
func NewPostgresBackend(ctx context.Context, conf *core.Config, logger core.Logger, db *sqlx.DB) (*PostgresBackend, error) {
	r := sqlxrepos.NewRepositories(db)
	b := &PostgresBackend{
		Backend: Backend{
			Repos: Repositories{
				User:         r.User,
				Academic:     r.Academic,
				Grade:        r.Grade,
				Attendance:   r.Attendance,
				Messaging:    r.Messaging,
				Content:      r.Content,
				Homework:     r.Homework,
				Audit:        r.Audit,
				Notification: r.Notification,
				School:       r.School,
			},
			Tx: database.NewTxRunner(db),
		},
	}

	limiter, err := newLimiter(ctx, conf, db, b)
	if err != nil {
		return nil, err
	}
	b.Limiter = limiter

	if b.Files, err = filesvc.NewDiskStore(conf); err != nil {
		_ = b.Close()
		return nil, errors.Wrap(err, "opening media storage")
	}

	if conf.Debug || conf.SendgridAPIKey == "" {
		b.Mail = emailsvc.NewConsoleService(conf, logger)
	} else {
		b.Mail = emailsvc.NewSendgridService(conf, logger)
	}
	return b, nil
}

func newLimiter(ctx context.Context, conf *core.Config, db *sqlx.DB, b *PostgresBackend) (messaging.RateLimiter, error) {
	switch conf.RateLimit.Backend {
	case "redis":
		rdb, err := ratelimitsvc.NewRedisClient(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "connecting to redis")
		}
		b.closer = rdb
		return ratelimitsvc.NewRedisLimiter(rdb, "intranet:ratelimit:"), nil
	case "memory":
		rl := ratelimitsvc.NewMemoryLimiter()
		b.Reaper = rl
		return rl, nil
	default:
		rl := sqlxrepos.NewRateLimiter(db)
		b.Reaper = rl
		return rl, nil
	}
}
