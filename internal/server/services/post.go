package services

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/dbx"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

var (
	errPostNotFound    = common.New(common.KindNotFound, "could not find post")
	errNoImageProvided = common.New(common.KindValidation, "no image provided")
	errNoFilePicked    = common.New(common.KindValidation, "no file picked")
	errForeignImage    = common.NewValidationError("image does not belong to this post", []common.FieldError{
		{Field: "image", Message: "must be the current image of the post or a new upload"},
	})
)

// ImageReclaimer removes images that posts no longer reference.
type ImageReclaimer interface {
	Reclaim(ctx context.Context, ref string)
}

// PostInput is the editable part of a post. ImageURL is the image
// reference; Uploaded marks it as a fresh upload of this request.
type PostInput struct {
	Title    string `json:"title" validate:"required"`
	Content  string `json:"content" validate:"required"`
	ImageURL string `json:"image"`
	Uploaded bool   `json:"-"`
}

// PostPage is one page of the feed plus the total number of posts.
type PostPage struct {
	Posts      []*models.PostWithCreator
	TotalItems int64
}

// PostService owns post persistence, ownership checks and pagination.
// Image files are reclaimed only after the transaction that dropped the
// last reference has committed.
type PostService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	images      ImageReclaimer
	pageSize    int
}

func NewPostService(db *sql.DB, m repomanager.RepositoryManager, images ImageReclaimer, pageSize int) *PostService {
	if pageSize < 1 {
		pageSize = 2
	}
	return &PostService{
		db:          db,
		repomanager: m,
		images:      images,
		pageSize:    pageSize,
	}
}

// List returns the 1-indexed page of posts ordered by creation time.
// Pages below 1 are treated as 1; pages past the end are empty.
func (s *PostService) List(ctx context.Context, page int) (*PostPage, error) {
	if page < 1 {
		page = 1
	}

	repo := s.repomanager.Posts(s.db)

	total, err := repo.Count(ctx)
	if err != nil {
		return nil, err
	}

	// Offsets past the last post, including ones that would overflow int,
	// yield an empty page without asking the store.
	if page-1 > (math.MaxInt-1)/s.pageSize || int64((page-1)*s.pageSize) >= total {
		return &PostPage{Posts: []*models.PostWithCreator{}, TotalItems: total}, nil
	}

	items, err := repo.List(ctx, s.pageSize, (page-1)*s.pageSize)
	if err != nil {
		return nil, err
	}

	return &PostPage{Posts: items, TotalItems: total}, nil
}

func (s *PostService) Get(ctx context.Context, postID string) (*models.PostWithCreator, error) {
	if !isUUID(postID) {
		return nil, errPostNotFound
	}

	post, err := s.repomanager.Posts(s.db).GetByID(ctx, postID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errPostNotFound
		}
		return nil, err
	}
	return post, nil
}

// Create stores the post and links it to its creator in one transaction.
func (s *PostService) Create(ctx context.Context, creatorID string, in PostInput) (*models.PostWithCreator, error) {
	in = normalizePostInput(in)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.ImageURL == "" {
		return nil, errNoImageProvided
	}

	var result *models.PostWithCreator
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		usersRepo := s.repomanager.Users(tx)
		postsRepo := s.repomanager.Posts(tx)

		creator, err := usersRepo.GetByID(ctx, creatorID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errUserNotFound
			}
			return err
		}

		post, err := postsRepo.Create(ctx, &models.Post{
			Title:     in.Title,
			Content:   in.Content,
			ImageURL:  in.ImageURL,
			CreatorID: creator.ID,
		})
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errUserNotFound
			}
			return err
		}

		if err := usersRepo.AddPost(ctx, creator.ID, post.ID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errUserNotFound
			}
			return err
		}

		result = &models.PostWithCreator{Post: *post, Creator: models.Creator{ID: creator.ID, Name: creator.Name}}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Update rewrites a post owned by requesterID. Without a fresh upload the
// image reference must stay the post's current one. A replaced image is
// reclaimed after commit.
func (s *PostService) Update(ctx context.Context, requesterID, postID string, in PostInput) (*models.PostWithCreator, error) {
	in = normalizePostInput(in)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.ImageURL == "" {
		return nil, errNoFilePicked
	}
	if !isUUID(postID) {
		return nil, errPostNotFound
	}

	var (
		result   *models.PostWithCreator
		oldImage string
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		postsRepo := s.repomanager.Posts(tx)

		post, err := postsRepo.GetByIDForUpdate(ctx, postID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errPostNotFound
			}
			return err
		}
		if post.CreatorID != requesterID {
			return common.ErrorForbidden
		}
		if !in.Uploaded && in.ImageURL != post.ImageURL {
			return errForeignImage
		}

		oldImage = post.ImageURL
		post.Title = in.Title
		post.Content = in.Content
		post.ImageURL = in.ImageURL

		updated, err := postsRepo.Update(ctx, post)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errPostNotFound
			}
			return err
		}

		creator, err := s.repomanager.Users(tx).GetByID(ctx, updated.CreatorID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errUserNotFound
			}
			return err
		}

		result = &models.PostWithCreator{Post: *updated, Creator: models.Creator{ID: creator.ID, Name: creator.Name}}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldImage != result.ImageURL {
		s.images.Reclaim(ctx, oldImage)
	}

	return result, nil
}

// Delete removes a post owned by requesterID together with its link, then
// reclaims its image.
func (s *PostService) Delete(ctx context.Context, requesterID, postID string) error {
	if !isUUID(postID) {
		return errPostNotFound
	}

	var image string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		postsRepo := s.repomanager.Posts(tx)

		post, err := postsRepo.GetByIDForUpdate(ctx, postID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errPostNotFound
			}
			return err
		}
		if post.CreatorID != requesterID {
			return common.ErrorForbidden
		}

		if err := postsRepo.Delete(ctx, post.ID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errPostNotFound
			}
			return err
		}
		if err := s.repomanager.Users(tx).RemovePost(ctx, post.CreatorID, post.ID); err != nil {
			return err
		}

		image = post.ImageURL
		return nil
	})
	if err != nil {
		return err
	}

	s.images.Reclaim(ctx, image)
	return nil
}

func normalizePostInput(in PostInput) PostInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	return in
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
