// Package integration spins up real postgres and kafka containers for the
// repository and relay tests. Requires a local docker daemon; run with
// -short to skip.
package integration

import (
	"context"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type Env struct {
	PG     *postgres.PostgresContainer
	Kafka  *kafka.KafkaContainer
	PGURL  string
	KAddr  []string
	Cancel context.CancelFunc
}

// SetupPostgres starts a postgres container and applies the migrations.
func SetupPostgres(ctx context.Context) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bookingpay"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		cancel()
		_ = pgC.Terminate(ctx)
		return nil, err
	}

	if err := applyMigrations(pgURL); err != nil {
		cancel()
		_ = pgC.Terminate(ctx)
		return nil, err
	}
	return &Env{PG: pgC, PGURL: pgURL, Cancel: cancel}, nil
}

// Setup starts postgres and kafka for the end-to-end relay tests.
func Setup(ctx context.Context) (*Env, error) {
	env, err := SetupPostgres(ctx)
	if err != nil {
		return nil, err
	}

	kafkaC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("bookingpay-test"),
	)
	if err != nil {
		env.Teardown(ctx)
		return nil, err
	}

	addr, err := kafkaC.Brokers(ctx)
	if err != nil {
		_ = kafkaC.Terminate(ctx)
		env.Teardown(ctx)
		return nil, err
	}
	env.Kafka = kafkaC
	env.KAddr = addr
	return env, nil
}

func applyMigrations(pgURL string) error {
	m, err := migrate.New("file://../../migrations", "pgx5://"+strings.TrimPrefix(pgURL, "postgres://"))
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

func (e *Env) Teardown(ctx context.Context) {
	e.Cancel()
	if e.Kafka != nil {
		_ = e.Kafka.Terminate(ctx)
	}
	if e.PG != nil {
		_ = e.PG.Terminate(ctx)
	}
}
