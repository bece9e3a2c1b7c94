package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBInterface is the subset of pgxpool.Pool the store needs.
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps role assignments in the user_roles table, one row per
// (user_id, role) pair. The roles table supplies the privilege rank.
type PostgresStore struct {
	db DBInterface
}

// NewPostgresStore creates a role store.
func NewPostgresStore(db DBInterface) *PostgresStore {
	return &PostgresStore{db: db}
}

// LookupRole returns the highest ranked role for userID.
func (s *PostgresStore) LookupRole(ctx context.Context, userID string) (Role, error) {
	row := s.db.QueryRow(ctx,
		`SELECT ur.role
         FROM user_roles ur
         JOIN roles r ON r.name = ur.role
         WHERE ur.user_id = $1
         ORDER BY r.rank DESC
         LIMIT 1`,
		userID,
	)

	var name string
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleViewer, nil
		}
		return RoleUnknown, fmt.Errorf("lookup role: %w", err)
	}

	role, err := ParseRole(name)
	if err != nil {
		return RoleUnknown, fmt.Errorf("lookup role: %w", err)
	}
	return role, nil
}

// Grant records role for userID inside one transaction. A viewer row is
// upgraded in place; otherwise a row is inserted and a concurrent insert of
// the same pair is absorbed by the primary key.
func (s *PostgresStore) Grant(ctx context.Context, userID string, role Role) (bool, error) {
	var granted bool
	err := s.withTransaction(ctx, func(tx pgx.Tx) error {
		current, err := lockRoles(ctx, tx, userID)
		if err != nil {
			return err
		}

		if len(current) > 0 && highest(current).AtLeast(role) {
			return nil
		}

		if _, ok := current[RoleViewer]; ok {
			tag, err := tx.Exec(ctx,
				`UPDATE user_roles SET role = $2, updated_at = NOW()
                 WHERE user_id = $1 AND role = $3`,
				userID, role.String(), RoleViewer.String(),
			)
			if err != nil {
				return fmt.Errorf("upgrade role: %w", err)
			}
			granted = tag.RowsAffected() > 0
			return nil
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role)
             VALUES ($1, $2)
             ON CONFLICT (user_id, role) DO NOTHING`,
			userID, role.String(),
		)
		if err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
		granted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

// Downgrade leaves exactly one row for userID with the viewer role. Stale
// duplicate rows are collapsed into the surviving one.
func (s *PostgresStore) Downgrade(ctx context.Context, userID string) error {
	return s.withTransaction(ctx, func(tx pgx.Tx) error {
		current, err := lockRoles(ctx, tx, userID)
		if err != nil {
			return err
		}

		if len(current) == 0 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role)
                 VALUES ($1, $2)
                 ON CONFLICT (user_id, role) DO NOTHING`,
				userID, RoleViewer.String(),
			); err != nil {
				return fmt.Errorf("insert viewer role: %w", err)
			}
			return nil
		}

		keep := highest(current)
		if len(current) > 1 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM user_roles WHERE user_id = $1 AND role <> $2`,
				userID, keep.String(),
			); err != nil {
				return fmt.Errorf("collapse roles: %w", err)
			}
		}

		if keep == RoleViewer {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE user_roles SET role = $2, updated_at = NOW()
             WHERE user_id = $1`,
			userID, RoleViewer.String(),
		); err != nil {
			return fmt.Errorf("downgrade role: %w", err)
		}
		return nil
	})
}

// Assignments returns the highest ranked role for every user with a row.
func (s *PostgresStore) Assignments(ctx context.Context) (map[string]Role, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT ON (ur.user_id) ur.user_id::text, ur.role
         FROM user_roles ur
         JOIN roles r ON r.name = ur.role
         ORDER BY ur.user_id, r.rank DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	defer rows.Close()

	assignments := make(map[string]Role)
	for rows.Next() {
		var userID, name string
		if err := rows.Scan(&userID, &name); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		role, err := ParseRole(name)
		if err != nil {
			continue
		}
		assignments[userID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role assignments: %w", err)
	}
	return assignments, nil
}

// withTransaction commits when fn succeeds and rolls back otherwise.
func (s *PostgresStore) withTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return
		}
		if cmErr := tx.Commit(ctx); cmErr != nil {
			err = fmt.Errorf("commit transaction: %w", cmErr)
		}
	}()
	return fn(tx)
}

func lockRoles(ctx context.Context, tx pgx.Tx, userID string) (map[Role]struct{}, error) {
	rows, err := tx.Query(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 FOR UPDATE`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("lock roles: %w", err)
	}
	defer rows.Close()

	current := make(map[Role]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		if role, err := ParseRole(name); err == nil {
			current[role] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return current, nil
}

func highest(roles map[Role]struct{}) Role {
	top := RoleUnknown
	for role := range roles {
		top = Max(top, role)
	}
	return top
}
