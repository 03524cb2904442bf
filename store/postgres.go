package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// PostgresUserStore implements UserStore on pgx.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore creates a PostgresUserStore.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// Create stores a new user.
func (s *PostgresUserStore) Create(ctx context.Context, user *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, hashed_password, first_name, last_name,
			phone_number, role, email_verified, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		user.ID,
		user.Email,
		user.HashedPassword,
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		string(user.Role),
		user.EmailVerified,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("email", user.Email).Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by id.
func (s *PostgresUserStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, userSelect+` WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email.
func (s *PostgresUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, userSelect+` WHERE email = $1`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("email", email).Wrap(err)
	}
	return user, nil
}

// Update rewrites a user's mutable fields.
func (s *PostgresUserStore) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			email = $2, hashed_password = $3, first_name = $4,
			last_name = $5, phone_number = $6, role = $7,
			email_verified = $8, updated_at = $9
		WHERE id = $1
	`,
		user.ID,
		user.Email,
		user.HashedPassword,
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		string(user.Role),
		user.EmailVerified,
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", user.ID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(ErrNotFound)
	}
	return nil
}

const userSelect = `
	SELECT id, email, hashed_password, first_name, last_name,
	       phone_number, role, email_verified, created_at, updated_at
	FROM users`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.HashedPassword, &u.FirstName, &u.LastName,
		&u.PhoneNumber, &role, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// PostgresTokenStore implements TokenStore on pgx.
type PostgresTokenStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTokenStore creates a PostgresTokenStore.
func NewPostgresTokenStore(pool *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{pool: pool}
}

// Create stores a one-time token.
func (s *PostgresTokenStore) Create(ctx context.Context, token *OneTimeToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO one_time_tokens (id, user_id, code, purpose, used_at, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID,
		token.UserID,
		token.Code,
		string(token.Purpose),
		token.UsedAt,
		token.CreatedAt,
		token.ExpiresAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").With("user_id", token.UserID.String()).Wrap(err)
	}
	return nil
}

// GetActive returns the newest live token for the user and purpose.
func (s *PostgresTokenStore) GetActive(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) (*OneTimeToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, code, purpose, used_at, created_at, expires_at
		FROM one_time_tokens
		WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, string(purpose))

	var (
		t          OneTimeToken
		rawPurpose string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Code, &rawPurpose, &t.UsedAt, &t.CreatedAt, &t.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").With("user_id", userID.String()).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	t.Purpose = OTPPurpose(rawPurpose)
	return &t, nil
}

// MarkUsed consumes a token.
func (s *PostgresTokenStore) MarkUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE one_time_tokens SET used_at = now() WHERE id = $1 AND used_at IS NULL
	`, id)
	if err != nil {
		return oops.Code("TOKEN_MARK_USED_FAILED").With("id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").With("id", id.String()).Wrap(ErrNotFound)
	}
	return nil
}

// InvalidateForUser consumes all outstanding tokens for a user and purpose.
func (s *PostgresTokenStore) InvalidateForUser(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE one_time_tokens SET used_at = now()
		WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL
	`, userID, string(purpose))
	if err != nil {
		return oops.Code("TOKEN_INVALIDATE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return nil
}
