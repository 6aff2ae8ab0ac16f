// Package posts provides the PostgreSQL-backed post repository.
package posts

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

const selectWithCreator = `SELECT p.id, p.title, p.content, p.image_url, p.creator_id, p.created_at, p.updated_at, u.name
		 FROM posts p JOIN users u ON u.id = p.creator_id`

// Create inserts the post and fills in ID, CreatedAt and UpdatedAt.
// An unknown creator yields common.ErrorNotFound.
func (r *PostgresRepository) Create(ctx context.Context, post *models.Post) (*models.Post, error) {
	query :=
		`INSERT INTO posts (title, content, image_url, creator_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, post.Title, post.Content, post.ImageURL, post.CreatorID).
		Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return post, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.PostWithCreator, error) {
	query := selectWithCreator + `
		 WHERE p.id = $1
		 `

	item := &models.PostWithCreator{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.Title, &item.Content, &item.ImageURL, &item.CreatorID,
		&item.CreatedAt, &item.UpdatedAt, &item.Creator.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	item.Creator.ID = item.CreatorID

	return item, nil
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Post, error) {
	query :=
		`SELECT id, title, content, image_url, creator_id, created_at, updated_at
		 FROM posts WHERE id = $1
		 FOR UPDATE
		 `

	post := &models.Post{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&post.ID, &post.Title, &post.Content, &post.ImageURL, &post.CreatorID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return post, nil
}

// List returns one window of posts in (created_at, id) order.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*models.PostWithCreator, error) {
	query := selectWithCreator + `
		 ORDER BY p.created_at, p.id
		 LIMIT $1 OFFSET $2
		 `

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to select posts: %w", err)
	}
	defer rows.Close()

	result := []*models.PostWithCreator{}
	for rows.Next() {
		var item models.PostWithCreator
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Content, &item.ImageURL, &item.CreatorID,
			&item.CreatedAt, &item.UpdatedAt, &item.Creator.Name,
		); err != nil {
			return nil, err
		}
		item.Creator.ID = item.CreatorID
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// Update rewrites title, content and image_url and bumps updated_at.
func (r *PostgresRepository) Update(ctx context.Context, post *models.Post) (*models.Post, error) {
	query :=
		`UPDATE posts SET title = $2, content = $3, image_url = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING creator_id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, post.ID, post.Title, post.Content, post.ImageURL).
		Scan(&post.CreatorID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return post, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
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

func (r *PostgresRepository) ImageURLs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT image_url FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}
