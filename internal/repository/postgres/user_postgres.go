package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crmapi/internal/model"
	"crmapi/internal/repository"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, created_at, updated_at`

// UserPostgres is a PostgreSQL implementation of repository.UserRepository.
type UserPostgres struct {
	db *sql.DB
}

// NewUserPostgres creates a new UserPostgres repository.
func NewUserPostgres(db *sql.DB) *UserPostgres {
	return &UserPostgres{db: db}
}

var _ repository.UserRepository = (*UserPostgres)(nil)

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

const insertUser = `
		INSERT INTO users (email, password_hash, first_name, last_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns

// registrationLockKey names the advisory lock that serializes CreatePromotingFirst.
const registrationLockKey int64 = 0x63726d5f75736572

// Create inserts an account. Emails are stored lower-cased.
func (r *UserPostgres) Create(ctx context.Context, u *model.User) (*model.User, error) {
	out, err := scanUser(r.db.QueryRowContext(ctx, insertUser, userArgs(u, u.Role)...))
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// CreatePromotingFirst inserts an account and stores it as admin when the users table is
// empty. The check and the insert run in one transaction under an advisory lock, so two
// concurrent first registrations cannot both become admin.
func (r *UserPostgres) CreatePromotingFirst(ctx context.Context, u *model.User) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, registrationLockKey); err != nil {
		return nil, err
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users)`).Scan(&exists); err != nil {
		return nil, err
	}
	role := u.Role
	if !exists {
		role = model.RoleAdmin
	}

	out, err := scanUser(tx.QueryRowContext(ctx, insertUser, userArgs(u, role)...))
	if err != nil {
		return nil, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func userArgs(u *model.User, role model.Role) []any {
	return []any{normalizeEmail(u.Email), u.PasswordHash, u.FirstName, u.LastName, string(role)}
}

// List returns all accounts ordered by creation time.
func (r *UserPostgres) List(ctx context.Context) ([]model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// FindByID fetches an account by ID.
func (r *UserPostgres) FindByID(ctx context.Context, id string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// FindByEmail fetches an account by its (case-insensitive) email.
func (r *UserPostgres) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, normalizeEmail(email)))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// Update applies the non-nil patch fields and bumps updated_at.
func (r *UserPostgres) Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Email != nil {
		add("email", normalizeEmail(*patch.Email))
	}
	if patch.FirstName != nil {
		add("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		add("last_name", *patch.LastName)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	if len(sets) == 0 {
		return r.FindByID(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)
	u, err := scanUser(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// UpdatePassword replaces the stored hash.
func (r *UserPostgres) UpdatePassword(ctx context.Context, id string, hash string) error {
	const q = `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`
	return execOne(ctx, r.db, q, hash, id)
}

// Delete removes an account by ID.
func (r *UserPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM users WHERE id = $1`
	return execOne(ctx, r.db, q, id)
}

// Count returns the number of accounts.
func (r *UserPostgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, db *sql.DB, q string, args ...any) error {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
