package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"cos-backend/services"
)

// Deps carries the shared services the background workers run against.
type Deps struct {
	DB       services.Database
	Mailer   *services.Mailer
	Activity *services.ActivityService
	Issuer   *services.CertificateIssuer
	SiteURL  string
}

// Migrate brings the queue tables up to date. Runs at startup right
// after the application schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("could not create queue migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("could not migrate queue tables: %w", err)
	}
	if len(res.Versions) > 0 {
		log.Printf("✅ Applied %d background queue migrations", len(res.Versions))
	}
	return nil
}

// NewClient builds the queue client with every worker registered. The
// caller starts and stops it around the server lifecycle.
func NewClient(pool *pgxpool.Pool, deps Deps, maxWorkers int) (*river.Client[pgx.Tx], error) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &CertificateWorker{deps: deps})
	river.AddWorker(workers, &EmailWorker{mailer: deps.Mailer})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create queue client: %w", err)
	}
	return client, nil
}
