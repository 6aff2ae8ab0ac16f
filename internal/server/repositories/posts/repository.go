package posts

import (
	"context"

	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
)

// Repository stores feed posts.
type Repository interface {
	Create(ctx context.Context, post *models.Post) (*models.Post, error)
	GetByID(ctx context.Context, id string) (*models.PostWithCreator, error)
	// GetByIDForUpdate locks the row for the rest of the enclosing transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Post, error)
	List(ctx context.Context, limit, offset int) ([]*models.PostWithCreator, error)
	Count(ctx context.Context) (int64, error)
	Update(ctx context.Context, post *models.Post) (*models.Post, error)
	Delete(ctx context.Context, id string) error
	// ImageURLs returns the image reference of every stored post.
	ImageURLs(ctx context.Context) ([]string, error)
}
