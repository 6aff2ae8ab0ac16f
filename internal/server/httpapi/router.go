package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Feed is the application surface served over HTTP.
type Feed interface {
	Authenticate(token string) (*services.Identity, error)
	Signup(ctx context.Context, in services.SignupInput) (string, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	ListPosts(ctx context.Context, token string, page int) (*services.PostPage, error)
	GetPost(ctx context.Context, token, postID string) (*models.PostWithCreator, error)
	CreatePost(ctx context.Context, token string, in services.PostInput, upload *services.Upload) (*models.PostWithCreator, error)
	UpdatePost(ctx context.Context, token, postID string, in services.PostInput, upload *services.Upload) (*models.PostWithCreator, error)
	DeletePost(ctx context.Context, token, postID string) error
	GetStatus(ctx context.Context, token string) (string, error)
	SetStatus(ctx context.Context, token, status string) (string, error)
}

// Options wires the router to its collaborators. Exactly one of ImageDir
// and Presigner is expected; Presigner wins when both are set.
type Options struct {
	Feed           Feed
	Logger         logging.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	ImageDir       string
	Presigner      ImagePresigner
	MaxUploadBytes int64
}

type handler struct {
	feed      Feed
	logger    logging.Logger
	imageDir  string
	presigner ImagePresigner
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(o Options) *gin.Engine {
	h := &handler{
		feed:      o.Feed,
		logger:    o.Logger.With("module", "httpapi"),
		imageDir:  o.ImageDir,
		presigner: o.Presigner,
	}

	r := gin.New()
	r.Use(requestLogger(h.logger), requestMetrics(o.Metrics), gin.Recovery(), cors(), limitBody(o.MaxUploadBytes))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if o.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/images/:name", h.image)

	auth := r.Group("/auth")
	{
		auth.PUT("/signup", h.signup)
		auth.POST("/signup", h.signup)
		auth.POST("/login", h.login)
	}

	feed := r.Group("/feed", h.requireToken)
	{
		feed.GET("/posts", h.listPosts)
		feed.POST("/post", h.createPost)
		feed.GET("/post/:postId", h.getPost)
		feed.PUT("/post/:postId", h.updatePost)
		feed.DELETE("/post/:postId", h.deletePost)
		feed.GET("/status", h.getStatus)
		feed.PATCH("/status", h.setStatus)
	}

	return r
}
