// Package services contains server-side business logic. This file implements
// UserService: signup, login, bearer token verification and the user status.
package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/auth"
	"github.com/dmitrijs2005/feedkeeper/internal/server/config"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
)

var (
	errWrongCredentials = common.New(common.KindAuthentication, "wrong email or password")
	errEmailTaken       = common.New(common.KindConflict, "e-mail address already exists")
	errUserNotFound     = common.New(common.KindNotFound, "user not found")
)

// SignupInput is the payload of a signup request.
type SignupInput struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=5"`
}

// Identity is the caller resolved from a valid bearer token.
type Identity struct {
	UserID string
	Email  string
}

// LoginResult carries a freshly minted access token.
type LoginResult struct {
	Token  string
	UserID string
}

// UserService handles accounts:
// - Signup: validate and create users
// - Login: verify credentials and mint tokens
// - VerifyToken: resolve a bearer token to an Identity
// - GetStatus / SetStatus: read and write the user status
type UserService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
	bcryptCost                  int

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                          db,
		repomanager:                 m,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
		bcryptCost:                  cfg.BcryptCost,
	}
}

// Signup creates a user with an empty status. Inputs are trimmed first;
// a taken email yields a conflict.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Password = strings.TrimSpace(in.Password)

	if err := validateInput(in); err != nil {
		return nil, err
	}

	repo := s.repomanager.Users(s.db)

	_, err := repo.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, errEmailTaken
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, "error hashing password", err)
	}

	user, err := repo.Create(ctx, &models.User{Email: in.Email, Name: in.Name, PasswordHash: hash})
	if err != nil {
		// lost a race with a concurrent signup for the same email
		if errors.Is(err, common.ErrorConflict) {
			return nil, errEmailTaken
		}
		return nil, err
	}

	return user, nil
}

// Login verifies the credentials and mints an access token. Unknown emails
// and wrong passwords fail identically and take comparable time.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = auth.CheckPassword(s.getDummyHash(), password)
			return nil, errWrongCredentials
		}
		return nil, err
	}

	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, errWrongCredentials
		}
		return nil, common.Wrap(common.KindInternal, "error checking password", err)
	}

	token, err := auth.GenerateToken(user.ID, user.Email, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, "error generating token", err)
	}

	return &LoginResult{Token: token, UserID: user.ID}, nil
}

// VerifyToken resolves a bearer token. Every failure is an authentication error.
func (s *UserService) VerifyToken(token string) (*Identity, error) {
	if token == "" {
		return nil, common.ErrorUnauthenticated
	}

	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, common.Wrap(common.KindAuthentication, "token expired", err)
		}
		return nil, common.Wrap(common.KindAuthentication, "invalid token", err)
	}

	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

func (s *UserService) GetStatus(ctx context.Context, userID string) (string, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", errUserNotFound
		}
		return "", err
	}
	return user.Status, nil
}

// SetStatus stores status as given and returns it.
func (s *UserService) SetStatus(ctx context.Context, userID, status string) (string, error) {
	if err := s.repomanager.Users(s.db).UpdateStatus(ctx, userID, status); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", errUserNotFound
		}
		return "", err
	}
	return status, nil
}

func (s *UserService) getDummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = auth.HashPassword("feedkeeper-dummy-password", s.bcryptCost)
	})
	return s.dummyHash
}
