package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"repay/internal/domain"
	"repay/internal/repository"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	q Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{q: db}
}

const userColumns = `id, COALESCE(name, ''), COALESCE(phone, ''), birthday, billing_keys`

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.q.QueryRowContext(ctx, query, id))
}

// GetByPhone retrieves a user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.q.QueryRowContext(ctx, query, phone))
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var birthday sql.NullTime
	var keys pq.StringArray

	err := row.Scan(&user.ID, &user.Name, &user.Phone, &birthday, &keys)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if birthday.Valid {
		user.Birthday = birthday.Time
	}
	user.BillingKeys = []string(keys)
	return &user, nil
}

// Ensure UserRepository implements repository.UserRepository.
var _ repository.UserRepository = (*UserRepository)(nil)
