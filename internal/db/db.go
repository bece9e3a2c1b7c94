package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	// Register pgx stdlib driver for database/sql usage in migrations.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lmda/portal/rbac"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS
var gooseMu sync.Mutex

// NewPool opens a connection pool and verifies it is reachable.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations.
func Migrate(_ context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Batcher is the subset of pgxpool.Pool needed to seed the roles catalogue.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type roleSeed struct {
	role        rbac.Role
	description string
}

var roleSeeds = []roleSeed{
	{role: rbac.RoleViewer, description: "Signed-in visitor with no management rights"},
	{role: rbac.RoleContentMaker, description: "Manages workshops and flyers"},
	{role: rbac.RoleSuperAdmin, description: "Manages workshops and team roles"},
}

// SeedRoles upserts the roles catalogue. Rank follows role privilege so
// lookups can prefer the highest assignment.
func SeedRoles(ctx context.Context, db Batcher) error {
	batch := &pgx.Batch{}
	for _, seed := range roleSeeds {
		batch.Queue(
			`INSERT INTO roles (name, rank, description) VALUES ($1, $2, $3)
             ON CONFLICT (name) DO UPDATE SET rank = EXCLUDED.rank, description = EXCLUDED.description`,
			seed.role.String(), int(seed.role), seed.description,
		)
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()
	for _, seed := range roleSeeds {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("seed role %s: %w", seed.role, err)
		}
	}
	return nil
}
