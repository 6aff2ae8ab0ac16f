package services

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/dbx"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	postsrepo "github.com/dmitrijs2005/feedkeeper/internal/server/repositories/posts"
	usersrepo "github.com/dmitrijs2005/feedkeeper/internal/server/repositories/users"
	"github.com/google/uuid"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("sql expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// fakeDB is an in-memory stand-in for the users, posts and user_posts tables.
type fakeDB struct {
	mu    sync.Mutex
	users map[string]*models.User
	posts map[string]*models.Post
	links map[string][]string
	clock time.Time
	errs  map[string]error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users: map[string]*models.User{},
		posts: map[string]*models.Post{},
		links: map[string][]string{},
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		errs:  map[string]error{},
	}
}

func (f *fakeDB) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeDB) addUser(email, name string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{ID: uuid.NewString(), Email: email, Name: name, CreatedAt: f.tick()}
	f.users[u.ID] = u
	return u
}

func (f *fakeDB) addPost(creatorID, title, image string) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	p := &models.Post{ID: uuid.NewString(), Title: title, Content: "content", ImageURL: image, CreatorID: creatorID, CreatedAt: now, UpdatedAt: now}
	f.posts[p.ID] = p
	f.links[creatorID] = append(f.links[creatorID], p.ID)
	return p
}

func (f *fakeDB) linked(userID, postID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.links[userID] {
		if id == postID {
			return true
		}
	}
	return false
}

type fakeUsersRepo struct{ f *fakeDB }

func (r fakeUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["users.Create"]; err != nil {
		return nil, err
	}
	for _, u := range r.f.users {
		if u.Email == user.Email {
			return nil, common.ErrorConflict
		}
	}
	cp := *user
	cp.ID = uuid.NewString()
	cp.CreatedAt = r.f.tick()
	r.f.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["users.GetByEmail"]; err != nil {
		return nil, err
	}
	for _, u := range r.f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["users.GetByID"]; err != nil {
		return nil, err
	}
	u, ok := r.f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r fakeUsersRepo) UpdateStatus(ctx context.Context, id, status string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Status = status
	return nil
}

func (r fakeUsersRepo) AddPost(ctx context.Context, userID, postID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["users.AddPost"]; err != nil {
		return err
	}
	if _, ok := r.f.users[userID]; !ok {
		return common.ErrorNotFound
	}
	for _, id := range r.f.links[userID] {
		if id == postID {
			return nil
		}
	}
	r.f.links[userID] = append(r.f.links[userID], postID)
	return nil
}

func (r fakeUsersRepo) RemovePost(ctx context.Context, userID, postID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	ids := r.f.links[userID]
	for i, id := range ids {
		if id == postID {
			r.f.links[userID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (r fakeUsersRepo) RepairLinks(ctx context.Context) (int64, error) {
	if err := r.f.errs["users.RepairLinks"]; err != nil {
		return 0, err
	}
	var n int64
	for _, p := range r.f.posts {
		if !r.f.linked(p.CreatorID, p.ID) {
			r.f.mu.Lock()
			r.f.links[p.CreatorID] = append(r.f.links[p.CreatorID], p.ID)
			r.f.mu.Unlock()
			n++
		}
	}
	return n, nil
}

func (r fakeUsersRepo) PruneLinks(ctx context.Context) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var n int64
	for userID, ids := range r.f.links {
		kept := ids[:0]
		for _, id := range ids {
			if p, ok := r.f.posts[id]; ok && p.CreatorID == userID {
				kept = append(kept, id)
				continue
			}
			n++
		}
		r.f.links[userID] = kept
	}
	return n, nil
}

type fakePostsRepo struct{ f *fakeDB }

func (r fakePostsRepo) withCreator(p *models.Post) *models.PostWithCreator {
	out := &models.PostWithCreator{Post: *p, Creator: models.Creator{ID: p.CreatorID}}
	if u, ok := r.f.users[p.CreatorID]; ok {
		out.Creator.Name = u.Name
	}
	return out
}

func (r fakePostsRepo) Create(ctx context.Context, post *models.Post) (*models.Post, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["posts.Create"]; err != nil {
		return nil, err
	}
	if _, ok := r.f.users[post.CreatorID]; !ok {
		return nil, common.ErrorNotFound
	}
	now := r.f.tick()
	post.ID = uuid.NewString()
	post.CreatedAt, post.UpdatedAt = now, now
	cp := *post
	r.f.posts[post.ID] = &cp
	return post, nil
}

func (r fakePostsRepo) GetByID(ctx context.Context, id string) (*models.PostWithCreator, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	p, ok := r.f.posts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.withCreator(p), nil
}

func (r fakePostsRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.Post, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["posts.GetByIDForUpdate"]; err != nil {
		return nil, err
	}
	p, ok := r.f.posts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (r fakePostsRepo) sorted() []*models.Post {
	all := make([]*models.Post, 0, len(r.f.posts))
	for _, p := range r.f.posts {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

func (r fakePostsRepo) List(ctx context.Context, limit, offset int) ([]*models.PostWithCreator, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["posts.List"]; err != nil {
		return nil, err
	}
	all := r.sorted()
	out := []*models.PostWithCreator{}
	for i := offset; i < len(all) && i < offset+limit; i++ {
		out = append(out, r.withCreator(all[i]))
	}
	return out, nil
}

func (r fakePostsRepo) Count(ctx context.Context) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["posts.Count"]; err != nil {
		return 0, err
	}
	return int64(len(r.f.posts)), nil
}

func (r fakePostsRepo) Update(ctx context.Context, post *models.Post) (*models.Post, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["posts.Update"]; err != nil {
		return nil, err
	}
	p, ok := r.f.posts[post.ID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	p.Title, p.Content, p.ImageURL = post.Title, post.Content, post.ImageURL
	p.UpdatedAt = r.f.tick()
	cp := *p
	return &cp, nil
}

func (r fakePostsRepo) Delete(ctx context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.posts[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.f.posts, id)
	return nil
}

func (r fakePostsRepo) ImageURLs(ctx context.Context) ([]string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.f.errs["posts.ImageURLs"]; err != nil {
		return nil, err
	}
	var urls []string
	for _, p := range r.f.posts {
		urls = append(urls, p.ImageURL)
	}
	return urls, nil
}

type fakeRepoManager struct{ f *fakeDB }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return fakeUsersRepo{m.f} }
func (m *fakeRepoManager) Posts(db dbx.DBTX) postsrepo.Repository       { return fakePostsRepo{m.f} }

// fakeImages records reclaim, store and discard calls.
type fakeImages struct {
	mu        sync.Mutex
	stored    []string
	reclaimed []string
	discarded []string
	storeErr  error
}

func (f *fakeImages) Reclaim(ctx context.Context, ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimed = append(f.reclaimed, ref)
}

func (f *fakeImages) Store(ctx context.Context, r io.Reader, originalName, contentType string, size int64) (string, error) {
	if f.storeErr != nil {
		return "", f.storeErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := "images/" + uuid.NewString() + "-" + originalName
	f.stored = append(f.stored, ref)
	return ref, nil
}

func (f *fakeImages) Discard(ctx context.Context, ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, ref)
}
