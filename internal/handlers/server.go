package handlers

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"qalam/internal/cache"
	"qalam/internal/config"
	"qalam/internal/counters"
	"qalam/internal/database"
	"qalam/internal/likes"
	"qalam/internal/media"
	"qalam/internal/messaging"
	"qalam/internal/middleware"
	"qalam/internal/models"
	"qalam/internal/query"
	"qalam/internal/utils"
)

// Reconciler runs one counter reconciliation pass. The engine's actor
// implements it; tests may call counters.Reconciler directly.
type Reconciler interface {
	Reconcile(ctx context.Context, scope string) (*counters.Report, error)
}

// Collaborators are the optional outside services. Nil members fall back to
// in-process or no-op implementations.
type Collaborators struct {
	Media      media.Store
	Cache      cache.Cache
	Events     messaging.Publisher
	Reconciler Reconciler
	Metrics    *utils.MetricsCollector
	Logger     *slog.Logger
}

// Server holds all server dependencies and the resources built over them
type Server struct {
	Config     *config.Config
	Stores     database.Stores
	Counters   counters.Set
	Ledgers    likes.Ledgers
	Tokens     *middleware.TokenService
	Auth       *middleware.AuthGate
	Media      media.Store
	Cache      cache.Cache
	Events     messaging.Publisher
	Reconciler Reconciler
	Metrics    *utils.MetricsCollector
	Logger     *slog.Logger

	resp *Responder

	users        *Resource[models.User, *models.User]
	posts        *Resource[models.Post, *models.Post]
	comments     *Resource[models.Comment, *models.Comment]
	replies      *Resource[models.Reply, *models.Reply]
	categories   *Resource[models.Category, *models.Category]
	postLikes    *Resource[models.LikeRecord, *models.LikeRecord]
	commentLikes *Resource[models.LikeRecord, *models.LikeRecord]
	replyLikes   *Resource[models.LikeRecord, *models.LikeRecord]
	followers    *Resource[models.FollowRecord, *models.FollowRecord]
	followings   *Resource[models.FollowRecord, *models.FollowRecord]
}

// NewServer creates a new Server instance with the given components
func NewServer(cfg *config.Config, stores database.Stores, c Collaborators) *Server {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Cache == nil {
		c.Cache = cache.Noop{}
	}
	if c.Events == nil {
		c.Events = messaging.Noop{}
	}
	if c.Media == nil {
		c.Media = media.NewMemoryStore()
	}
	if c.Metrics == nil {
		c.Metrics = utils.NewMetricsCollector()
	}
	if c.Reconciler == nil {
		c.Reconciler = directReconciler{counters.NewReconciler(stores, c.Cache, c.Logger)}
	}

	set := counters.NewSet(stores, c.Cache, c.Logger)
	s := &Server{
		Config:     cfg,
		Stores:     stores,
		Counters:   set,
		Ledgers:    likes.NewLedgers(stores, set, c.Events, c.Logger),
		Tokens:     middleware.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry, cfg.Auth.Issuer),
		Media:      c.Media,
		Cache:      c.Cache,
		Events:     c.Events,
		Reconciler: c.Reconciler,
		Metrics:    c.Metrics,
		Logger:     c.Logger,
	}
	s.resp = &Responder{Logger: c.Logger, Development: !cfg.IsProduction(), Metrics: c.Metrics}
	s.Auth = middleware.NewAuthGate(s.Tokens, stores.Users, s.resp.Error)

	s.users = s.userResource()
	s.posts = s.postResource()
	s.comments = s.commentResource()
	s.replies = s.replyResource()
	s.categories = s.categoryResource()
	s.postLikes = s.likeResource(stores.PostLikes)
	s.commentLikes = s.likeResource(stores.CommentLikes)
	s.replyLikes = s.likeResource(stores.ReplyLikes)
	s.followers = s.followResource("followingId", "followerId", "follower")
	s.followings = s.followResource("followerId", "followingId", "following")
	return s
}

// queryOptions returns the configured pagination bounds for a collection.
func (s *Server) queryOptions(schema query.Schema, hidden ...string) query.Options {
	opts := query.Options{Schema: schema, Hidden: hidden}
	if s.Config.Query != nil {
		opts.DefaultLimit = s.Config.Query.DefaultLimit
		opts.MaxLimit = s.Config.Query.MaxLimit
	}
	return opts
}

// userSummary is what populated user references expose.
var userSummary = bson.M{"username": 1, "name": 1, "photo": 1}

func (s *Server) populateUser(field, as string) *Populate {
	return &Populate{Field: field, As: as, Store: s.Stores.Users, Select: userSummary}
}

// adjust applies a counter change after the ledger write has already
// succeeded, so failures are logged and left to reconciliation.
func (s *Server) adjust(ctx context.Context, counter *counters.Counter, id string, delta int) {
	if id == "" {
		return
	}
	if err := counter.Adjust(ctx, id, delta); err != nil && !utils.IsErrorCode(err, utils.ErrNotFound) {
		s.Logger.Error("counter update failed",
			"collection", counter.Store.Name(),
			"field", counter.Field,
			"id", id,
			"delta", delta,
			"error", err,
		)
	}
}

func (s *Server) publish(subject string, event any) {
	if err := s.Events.Publish(subject, event); err != nil {
		s.Logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

// releaseMedia deletes uploaded files that no document references any more.
func (s *Server) releaseMedia(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	return s.Media.Delete(ctx, urls)
}

// discardUploads is the compensation for an upload whose document was never stored.
func (s *Server) discardUploads(ctx context.Context, urls []string) {
	if err := s.releaseMedia(ctx, urls); err != nil {
		s.Logger.Warn("failed to discard uploads", "count", len(urls), "error", err)
	}
}

type directReconciler struct {
	r *counters.Reconciler
}

func (d directReconciler) Reconcile(ctx context.Context, scope string) (*counters.Report, error) {
	return d.r.Run(ctx, scope)
}

func stringsOf(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case primitive.A:
		return stringsOf([]any(list))
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	}
	return nil
}
