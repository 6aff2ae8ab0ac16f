package httpapi

import (
	"context"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/images"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

// ImagePresigner hands out temporary download URLs for stored images.
type ImagePresigner interface {
	PresignGet(ctx context.Context, name string) (string, error)
}

var (
	errBadBody       = common.New(common.KindValidation, "invalid request body")
	errUploadTooBig  = common.NewValidationError("upload too large", []common.FieldError{{Field: "image", Message: "exceeds the upload size limit"}})
	errImageNotFound = common.New(common.KindNotFound, "image not found")
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type postRequest struct {
	Title   string `json:"title" form:"title"`
	Content string `json:"content" form:"content"`
	Image   string `json:"image" form:"image"`
}

type creatorResponse struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

type postResponse struct {
	ID        string          `json:"_id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	ImageURL  string          `json:"imageUrl"`
	Creator   creatorResponse `json:"creator"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func toPostResponse(p *models.PostWithCreator) postResponse {
	return postResponse{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		ImageURL:  p.ImageURL,
		Creator:   creatorResponse{ID: p.Creator.ID, Name: p.Creator.Name},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (h *handler) signup(c *gin.Context) {
	var req services.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errBadBody)
		return
	}

	userID, err := h.feed.Signup(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created", "userId": userID})
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errBadBody)
		return
	}

	res, err := h.feed.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": res.Token, "userId": res.UserID})
}

func (h *handler) listPosts(c *gin.Context) {
	page := parsePage(c.Query("page"))

	res, err := h.feed.ListPosts(c.Request.Context(), bearerToken(c), page)
	if err != nil {
		h.writeError(c, err)
		return
	}

	posts := make([]postResponse, 0, len(res.Posts))
	for _, p := range res.Posts {
		posts = append(posts, toPostResponse(p))
	}

	c.JSON(http.StatusOK, gin.H{"message": "Posts found!", "posts": posts, "totalItems": res.TotalItems})
}

// parsePage reads the ?page query value. Unparsable values mean the first
// page; numbers beyond the int range saturate so they stay past the end.
func parsePage(raw string) int {
	if raw == "" {
		return 1
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err == nil:
		return n
	case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-"):
		return math.MaxInt
	default:
		return 1
	}
}

func (h *handler) getPost(c *gin.Context) {
	post, err := h.feed.GetPost(c.Request.Context(), bearerToken(c), c.Param("postId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Post fetched!", "post": toPostResponse(post)})
}

func (h *handler) createPost(c *gin.Context) {
	in, upload, closeUpload, err := h.readPostForm(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeUpload()

	post, err := h.feed.CreatePost(c.Request.Context(), bearerToken(c), in, upload)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Post created successfully",
		"post":    toPostResponse(post),
		"creator": creatorResponse{ID: post.Creator.ID, Name: post.Creator.Name},
	})
}

func (h *handler) updatePost(c *gin.Context) {
	in, upload, closeUpload, err := h.readPostForm(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeUpload()

	post, err := h.feed.UpdatePost(c.Request.Context(), bearerToken(c), c.Param("postId"), in, upload)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Post updated!", "post": toPostResponse(post)})
}

func (h *handler) deletePost(c *gin.Context) {
	if err := h.feed.DeletePost(c.Request.Context(), bearerToken(c), c.Param("postId")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Post Deleted!"})
}

func (h *handler) getStatus(c *gin.Context) {
	status, err := h.feed.GetStatus(c.Request.Context(), bearerToken(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User status fetched", "status": status})
}

func (h *handler) setStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errBadBody)
		return
	}

	status, err := h.feed.SetStatus(c.Request.Context(), bearerToken(c), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Status Updated!", "status": status})
}

func (h *handler) image(c *gin.Context) {
	name := c.Param("name")
	if _, ok := images.NameFromRef(images.RefFromName(name)); !ok {
		h.writeError(c, errImageNotFound)
		return
	}

	if h.presigner != nil {
		url, err := h.presigner.PresignGet(c.Request.Context(), name)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.Redirect(http.StatusTemporaryRedirect, url)
		return
	}

	path := filepath.Join(h.imageDir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		h.writeError(c, errImageNotFound)
		return
	}
	c.File(path)
}

// readPostForm reads the post fields from a multipart form or a JSON body,
// plus the optional "image" file. The returned func closes the file.
func (h *handler) readPostForm(c *gin.Context) (services.PostInput, *services.Upload, func(), error) {
	noop := func() {}

	upload, file, err := formUpload(c)
	if err != nil {
		return services.PostInput{}, nil, noop, err
	}
	closeUpload := noop
	if file != nil {
		closeUpload = func() { _ = file.Close() }
	}

	var req postRequest
	if err := c.ShouldBind(&req); err != nil {
		closeUpload()
		if isTooLarge(err) {
			return services.PostInput{}, nil, noop, errUploadTooBig
		}
		return services.PostInput{}, nil, noop, errBadBody
	}

	in := services.PostInput{Title: req.Title, Content: req.Content, ImageURL: req.Image}
	return in, upload, closeUpload, nil
}

func formUpload(c *gin.Context) (*services.Upload, multipart.File, error) {
	fh, err := c.FormFile("image")
	switch {
	case err == nil:
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, nil, nil
	case isTooLarge(err):
		return nil, nil, errUploadTooBig
	default:
		return nil, nil, errBadBody
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}

	return &services.Upload{
		Reader:      f,
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
	}, f, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
