package services

import (
	"context"
	"io"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
)

// ImageStore saves uploads and throws away uploads that ended up unused.
type ImageStore interface {
	Store(ctx context.Context, r io.Reader, originalName, contentType string, size int64) (string, error)
	Discard(ctx context.Context, ref string)
}

// Upload is an image file received with a request.
type Upload struct {
	Reader      io.Reader
	Name        string
	ContentType string
	Size        int64
}

// FeedService is the entry point of the transport layer. Every operation
// except Signup and Login authenticates the bearer token first. Errors leave
// as *common.Error; unclassified ones become internal errors.
type FeedService struct {
	users  *UserService
	posts  *PostService
	images ImageStore
}

func NewFeedService(users *UserService, posts *PostService, images ImageStore) *FeedService {
	return &FeedService{users: users, posts: posts, images: images}
}

// Authenticate verifies a bearer token on its own, so a transport can refuse
// unauthenticated requests before reading their bodies.
func (s *FeedService) Authenticate(token string) (*Identity, error) {
	return s.users.VerifyToken(token)
}

// Signup returns the id of the new user.
func (s *FeedService) Signup(ctx context.Context, in SignupInput) (string, error) {
	user, err := s.users.Signup(ctx, in)
	if err != nil {
		return "", common.Classify(err)
	}
	return user.ID, nil
}

func (s *FeedService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	res, err := s.users.Login(ctx, email, password)
	if err != nil {
		return nil, common.Classify(err)
	}
	return res, nil
}

func (s *FeedService) ListPosts(ctx context.Context, token string, page int) (*PostPage, error) {
	if _, err := s.users.VerifyToken(token); err != nil {
		return nil, err
	}
	res, err := s.posts.List(ctx, page)
	if err != nil {
		return nil, common.Classify(err)
	}
	return res, nil
}

func (s *FeedService) GetPost(ctx context.Context, token, postID string) (*models.PostWithCreator, error) {
	if _, err := s.users.VerifyToken(token); err != nil {
		return nil, err
	}
	res, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, common.Classify(err)
	}
	return res, nil
}

// CreatePost stores upload (if any) and creates the post referencing it.
// The stored file is discarded when creation fails.
func (s *FeedService) CreatePost(ctx context.Context, token string, in PostInput, upload *Upload) (*models.PostWithCreator, error) {
	id, err := s.users.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	in.ImageURL = ""
	in.Uploaded = false
	if upload != nil {
		ref, err := s.images.Store(ctx, upload.Reader, upload.Name, upload.ContentType, upload.Size)
		if err != nil {
			return nil, common.Classify(err)
		}
		in.ImageURL = ref
		in.Uploaded = true
	}

	res, err := s.posts.Create(ctx, id.UserID, in)
	if err != nil {
		if in.Uploaded {
			s.images.Discard(ctx, in.ImageURL)
		}
		return nil, common.Classify(err)
	}
	return res, nil
}

// UpdatePost replaces the post fields. With an upload the new file becomes
// the post image; otherwise in.ImageURL must name the current one.
func (s *FeedService) UpdatePost(ctx context.Context, token, postID string, in PostInput, upload *Upload) (*models.PostWithCreator, error) {
	id, err := s.users.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	in.Uploaded = false
	if upload != nil {
		ref, err := s.images.Store(ctx, upload.Reader, upload.Name, upload.ContentType, upload.Size)
		if err != nil {
			return nil, common.Classify(err)
		}
		in.ImageURL = ref
		in.Uploaded = true
	}

	res, err := s.posts.Update(ctx, id.UserID, postID, in)
	if err != nil {
		if in.Uploaded {
			s.images.Discard(ctx, in.ImageURL)
		}
		return nil, common.Classify(err)
	}
	return res, nil
}

func (s *FeedService) DeletePost(ctx context.Context, token, postID string) error {
	id, err := s.users.VerifyToken(token)
	if err != nil {
		return err
	}
	return common.Classify(s.posts.Delete(ctx, id.UserID, postID))
}

func (s *FeedService) GetStatus(ctx context.Context, token string) (string, error) {
	id, err := s.users.VerifyToken(token)
	if err != nil {
		return "", err
	}
	status, err := s.users.GetStatus(ctx, id.UserID)
	if err != nil {
		return "", common.Classify(err)
	}
	return status, nil
}

func (s *FeedService) SetStatus(ctx context.Context, token, status string) (string, error) {
	id, err := s.users.VerifyToken(token)
	if err != nil {
		return "", err
	}
	status, err = s.users.SetStatus(ctx, id.UserID, status)
	if err != nil {
		return "", common.Classify(err)
	}
	return status, nil
}
