package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/lmda/portal/rbac"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const uniqueViolation = "23505"

// DBInterface is the subset of pgxpool.Pool the store needs.
type DBInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Account represents a persisted identity in the profiles table.
type Account struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	FullName     string    `db:"full_name"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

func (a *Account) profile() rbac.Profile {
	return rbac.Profile{ID: a.ID, Email: a.Email, FullName: a.FullName, CreatedAt: a.CreatedAt}
}

// Store persists accounts and doubles as the user directory consulted by
// role administration.
type Store struct {
	db        DBInterface
	hashCost  int
	newID     func() string
	dummyHash []byte
}

// NewStore creates an account store.
func NewStore(db DBInterface) *Store {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return &Store{
		db:        db,
		hashCost:  bcrypt.DefaultCost,
		newID:     func() string { return uuid.NewString() },
		dummyHash: dummy,
	}
}

const accountColumns = `id::text AS id, email, COALESCE(full_name, '') AS full_name, password_hash, created_at`

// Create registers a new account with a bcrypt hashed password.
func (s *Store) Create(ctx context.Context, email, fullName, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &Account{
		ID:           s.newID(),
		Email:        rbac.NormalizeEmail(email),
		FullName:     fullName,
		PasswordHash: string(hash),
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO profiles (id, email, full_name, password_hash)
         VALUES ($1, $2, NULLIF($3, ''), $4)
         RETURNING created_at`,
		account.ID, account.Email, account.FullName, account.PasswordHash,
	)
	if err := row.Scan(&account.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return account, nil
}

// GetByEmail loads an account by its normalized email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	var account Account
	err := pgxscan.Get(ctx, s.db, &account,
		`SELECT `+accountColumns+` FROM profiles WHERE email = $1`,
		rbac.NormalizeEmail(email),
	)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &account, nil
}

// GetByID loads an account by id.
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAccountNotFound
	}

	var account Account
	err := pgxscan.Get(ctx, s.db, &account,
		`SELECT `+accountColumns+` FROM profiles WHERE id = $1`,
		id,
	)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &account, nil
}

// Authenticate verifies a password. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// FindByEmail implements rbac.Directory.
func (s *Store) FindByEmail(ctx context.Context, email string) (*rbac.Profile, error) {
	account, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, rbac.ErrUserNotFound
		}
		return nil, err
	}
	profile := account.profile()
	return &profile, nil
}

// FindByID implements rbac.Directory.
func (s *Store) FindByID(ctx context.Context, id string) (*rbac.Profile, error) {
	account, err := s.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, rbac.ErrUserNotFound
		}
		return nil, err
	}
	profile := account.profile()
	return &profile, nil
}

// ListProfiles implements rbac.Directory.
func (s *Store) ListProfiles(ctx context.Context) ([]rbac.Profile, error) {
	var accounts []Account
	if err := pgxscan.Select(ctx, s.db, &accounts,
		`SELECT `+accountColumns+` FROM profiles ORDER BY created_at DESC`,
	); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	profiles := make([]rbac.Profile, 0, len(accounts))
	for i := range accounts {
		profiles = append(profiles, accounts[i].profile())
	}
	return profiles, nil
}
