package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"beacon/cmd/identity/ids"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema identifiers are validated to avoid SQL injection via identifiers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "beacon").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "beacon"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) users() string {
	return fmt.Sprintf("%q.%q", s.schema, "users")
}

const userColumns = `id, username, email, display_name, password_hash, created_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u             User
		email, disp   *string
	)
	if err := row.Scan(&u.ID, &u.Username, &email, &disp, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	if email != nil {
		u.Email = *email
	}
	if disp != nil {
		u.DisplayName = *disp
	}
	return u, nil
}

// GetByUsername looks a user up by normalized username.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE username_norm = $1`,
		NormalizeUsername(username),
	)
	return scanUser(row)
}

// GetByEmail looks a user up by normalized email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE email_norm = $1`,
		NormalizeEmail(email),
	)
	return scanUser(row)
}

// GetByID looks a user up by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// Create registers a new user. Uniqueness conflicts map to ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	uname := NormalizeUsername(in.Username)
	if uname == "" || in.PasswordHash == "" {
		return User{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	var email, emailNorm, disp *string
	if e := strings.TrimSpace(in.Email); e != "" {
		n := NormalizeEmail(e)
		email, emailNorm = &e, &n
	}
	if d := strings.TrimSpace(in.DisplayName); d != "" {
		disp = &d
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.users()+
			` (id, username, username_norm, email, email_norm, display_name, password_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, in.Username, uname, email, emailNorm, disp, in.PasswordHash, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, err
	}

	return User{
		ID:           id,
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
	}, nil
}

// UpdatePassword replaces the stored password hash for a user.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	if passwordHash == "" {
		return ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
