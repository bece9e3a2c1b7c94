package workshops

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ListOptions narrows a listing.
type ListOptions struct {
	ActiveOnly bool
	Ascending  bool
}

// Repository persists workshops.
type Repository interface {
	List(ctx context.Context, opts ListOptions) ([]Workshop, error)
	Get(ctx context.Context, id string, activeOnly bool) (*Workshop, error)
	Create(ctx context.Context, w *Workshop) error
	Update(ctx context.Context, id string, w *Workshop) error
	SetActive(ctx context.Context, id string, active bool) (*Workshop, error)
	Delete(ctx context.Context, id string) error
}

// DBInterface is the subset of pgxpool.Pool the repository needs.
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores workshops in the workshops table.
type PostgresRepository struct {
	db DBInterface
}

func NewPostgresRepository(db DBInterface) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var workshopColumns = []string{
	"id::text AS id",
	"title",
	"COALESCE(description, '') AS description",
	"category",
	"status",
	"price",
	"COALESCE(trainer_name, '') AS trainer_name",
	"scheduled_at",
	"cpd_points",
	"is_active",
	"COALESCE(flyer_url, '') AS flyer_url",
	"created_at",
	"updated_at",
}

func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]Workshop, error) {
	order := "scheduled_at DESC"
	if opts.Ascending {
		order = "scheduled_at ASC"
	}
	qb := squirrel.Select(workshopColumns...).
		From("workshops").
		OrderBy(order).
		PlaceholderFormat(squirrel.Dollar)
	if opts.ActiveOnly {
		qb = qb.Where(squirrel.Eq{"is_active": true})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	workshops := []Workshop{}
	if err := pgxscan.Select(ctx, r.db, &workshops, query, args...); err != nil {
		return nil, fmt.Errorf("scanning workshops: %w", err)
	}
	return workshops, nil
}

// Get loads one workshop. Inactive workshops are reported as missing when
// activeOnly is set.
func (r *PostgresRepository) Get(ctx context.Context, id string, activeOnly bool) (*Workshop, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	where := squirrel.Eq{"id": id}
	if activeOnly {
		where["is_active"] = true
	}

	query, args, err := squirrel.Select(workshopColumns...).
		From("workshops").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var w Workshop
	if err := pgxscan.Get(ctx, r.db, &w, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning workshop: %w", err)
	}
	return &w, nil
}

func (r *PostgresRepository) Create(ctx context.Context, w *Workshop) error {
	query, args, err := squirrel.Insert("workshops").
		Columns("title", "description", "category", "status", "price", "trainer_name",
			"scheduled_at", "cpd_points", "is_active", "flyer_url").
		Values(w.Title, nullIfEmpty(w.Description), w.Category, w.Status, w.Price, nullIfEmpty(w.TrainerName),
			w.ScheduledAt, w.CPDPoints, w.IsActive, nullIfEmpty(w.FlyerURL)).
		Suffix("RETURNING id::text, created_at, updated_at").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if err := r.db.QueryRow(ctx, query, args...).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return fmt.Errorf("inserting workshop: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, w *Workshop) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	query, args, err := squirrel.Update("workshops").
		Set("title", w.Title).
		Set("description", nullIfEmpty(w.Description)).
		Set("category", w.Category).
		Set("status", w.Status).
		Set("price", w.Price).
		Set("trainer_name", nullIfEmpty(w.TrainerName)).
		Set("scheduled_at", w.ScheduledAt).
		Set("cpd_points", w.CPDPoints).
		Set("is_active", w.IsActive).
		Set("flyer_url", nullIfEmpty(w.FlyerURL)).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING id::text, created_at, updated_at").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	if err := r.db.QueryRow(ctx, query, args...).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if pgxscan.NotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("updating workshop: %w", err)
	}
	return nil
}

// SetActive flips visibility without touching the other fields.
func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) (*Workshop, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query, args, err := squirrel.Update("workshops").
		Set("is_active", active).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating workshop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id, false)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	query, args, err := squirrel.Delete("workshops").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting workshop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
