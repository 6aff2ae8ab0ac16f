// Package users provides the PostgreSQL-backed user repository, including
// the per-user set of authored posts kept in user_posts.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/dbx"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the user and fills in ID and CreatedAt.
// A duplicate email yields common.ErrorConflict.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (email, password_hash, name, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.Name, user.Status).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`SELECT id, email, password_hash, name, status, created_at FROM users
		 WHERE email = $1
		 `
	return r.getOne(ctx, query, email)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, email, password_hash, name, status, created_at FROM users
		 WHERE id = $1
		 `
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Status, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// UpdateStatus sets the user's status; common.ErrorNotFound if no such user.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE users SET status = $2 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// AddPost links postID to userID. Adding an existing link is a no-op;
// an unknown user yields common.ErrorNotFound.
func (r *PostgresRepository) AddPost(ctx context.Context, userID, postID string) error {
	query :=
		`INSERT INTO user_posts (user_id, post_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, post_id) DO NOTHING
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, postID); err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RemovePost unlinks postID from userID. Removing a missing link is a no-op.
func (r *PostgresRepository) RemovePost(ctx context.Context, userID, postID string) error {
	query := `DELETE FROM user_posts WHERE user_id = $1 AND post_id = $2`

	if _, err := r.db.ExecContext(ctx, query, userID, postID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RepairLinks(ctx context.Context) (int64, error) {
	query :=
		`INSERT INTO user_posts (user_id, post_id, added_at)
		 SELECT p.creator_id, p.id, p.created_at FROM posts p
		 WHERE NOT EXISTS (
		   SELECT 1 FROM user_posts up WHERE up.user_id = p.creator_id AND up.post_id = p.id
		 )
		 ON CONFLICT (user_id, post_id) DO NOTHING
		 `
	return r.exec(ctx, query)
}

func (r *PostgresRepository) PruneLinks(ctx context.Context) (int64, error) {
	query :=
		`DELETE FROM user_posts up
		 WHERE NOT EXISTS (
		   SELECT 1 FROM posts p WHERE p.id = up.post_id AND p.creator_id = up.user_id
		 )
		 `
	return r.exec(ctx, query)
}

func (r *PostgresRepository) exec(ctx context.Context, query string) (int64, error) {
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
