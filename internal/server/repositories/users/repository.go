package users

import (
	"context"

	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
)

// Repository stores user accounts and the set of posts each user authored.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateStatus(ctx context.Context, id, status string) error

	AddPost(ctx context.Context, userID, postID string) error
	RemovePost(ctx context.Context, userID, postID string) error

	// RepairLinks adds the missing user_posts rows for posts whose creator
	// lacks one and returns how many were added.
	RepairLinks(ctx context.Context) (int64, error)
	// PruneLinks removes user_posts rows that point at a missing post or a
	// post created by someone else and returns how many were removed.
	PruneLinks(ctx context.Context) (int64, error)
}
