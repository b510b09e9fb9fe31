package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"qalam/internal/middleware"
	"qalam/internal/models"
	"qalam/internal/utils"
)

// APIPrefix is the versioned prefix of every resource route.
const APIPrefix = "/api/v1"

// Routes builds the HTTP handler for the whole API
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.Logger, s.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(s.Config.AllowedOrigins)))

	r.NotFound(s.resp.Wrap(func(w http.ResponseWriter, r *http.Request) error {
		return utils.NewAppError(utils.ErrNotFound, fmt.Sprintf("Can't find %s on this server!", r.URL.Path), nil)
	}))
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{
			Status:  statusFail,
			Message: fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path),
		})
	})

	r.Get("/health", s.HandleHealth())
	if s.Config.Server != nil && s.Config.Server.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/health", s.HandleHealth())
		r.Route("/users", s.userRoutes)
		r.Route("/posts", s.postRoutes)
		r.Route("/comments", s.commentRoutes)
		r.Route("/replies", s.replyRoutes)
		r.Route("/likedBy", s.likedByRoutes)
		r.Route("/follow", s.followRoutes)
		r.Route("/categories", s.categoryRoutes)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.Auth.Protect, s.Auth.RestrictTo(models.RoleAdmin))
			r.Post("/reconcile", s.HandleReconcile())
		})
	})
	return r
}

func (s *Server) userRoutes(r chi.Router) {
	r.Post("/signup", s.HandleSignup())
	r.Post("/login", s.HandleLogin())
	r.Get("/logout", s.HandleLogout())

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Protect)
		r.Patch("/updateMyPassword", s.HandleUpdateMyPassword())
		r.Get("/me", s.HandleGetMe())
		r.Patch("/updateMe", s.HandleUpdateMe())
		r.Delete("/deleteMe", s.HandleDeleteMe())
		r.Get("/search/{searchTerm}", s.HandleSearchUsers())
		r.Get("/joinedSpaces", s.HandleJoinedSpaces())
		r.Post("/joinSpace", s.HandleJoinSpace())
		r.Delete("/unjoinSpace", s.HandleUnjoinSpace())

		r.Group(func(r chi.Router) {
			r.Use(s.Auth.RestrictTo(models.RoleAdmin))
			r.Get("/", s.resp.Wrap(s.users.List()))
			r.Post("/", s.HandleCreateUser())
			r.Post("/cleanUpJoinedSpaces", s.HandleCleanUpJoinedSpaces())
			r.Get("/{id}", s.resp.Wrap(s.users.Get()))
			r.Patch("/{id}", s.resp.Wrap(s.users.Update()))
			r.Delete("/{id}", s.resp.Wrap(s.users.Delete()))
		})
	})
}

func (s *Server) postRoutes(r chi.Router) {
	r.Use(s.Auth.Protect)
	r.Get("/", s.resp.Wrap(s.posts.List()))
	r.Post("/", s.resp.Wrap(s.posts.Create()))
	r.Get("/search/{searchTerm}", s.HandleSearchPosts())

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", s.resp.Wrap(s.posts.Get()))
		r.Patch("/", s.resp.Wrap(s.posts.Update()))
		r.Delete("/", s.resp.Wrap(s.posts.Delete()))

		r.Get("/comments", s.resp.Wrap(s.comments.List()))
		r.Post("/comments", s.resp.Wrap(s.comments.Create()))

		r.Get("/likedBy", s.resp.Wrap(s.postLikes.ListMatching(scopedBy(models.LikeTargetField))))
		r.Post("/likedBy/likePost", s.HandleLike(models.PostLike))
		r.Delete("/likedBy/unlikePost", s.HandleUnlike(models.PostLike))
	})
}

func (s *Server) commentRoutes(r chi.Router) {
	r.Use(s.Auth.Protect)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", s.resp.Wrap(s.comments.Get()))
		r.Patch("/", s.resp.Wrap(s.comments.Update()))
		r.Delete("/", s.resp.Wrap(s.comments.Delete()))

		r.Get("/replies", s.resp.Wrap(s.replies.List()))
		r.Post("/replies", s.resp.Wrap(s.replies.Create()))

		r.Get("/likedBy", s.resp.Wrap(s.commentLikes.ListMatching(scopedBy(models.LikeTargetField))))
		r.Post("/likedBy/likeComment", s.HandleLike(models.CommentLike))
		r.Delete("/likedBy/unlikeComment", s.HandleUnlike(models.CommentLike))
	})
}

func (s *Server) replyRoutes(r chi.Router) {
	r.Use(s.Auth.Protect)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", s.resp.Wrap(s.replies.Get()))
		r.Patch("/", s.resp.Wrap(s.replies.Update()))
		r.Delete("/", s.resp.Wrap(s.replies.Delete()))

		r.Get("/likedBy", s.resp.Wrap(s.replyLikes.ListMatching(scopedBy(models.LikeTargetField))))
		r.Post("/likedBy/likeReply", s.HandleLike(models.ReplyLike))
		r.Delete("/likedBy/unlikeReply", s.HandleUnlike(models.ReplyLike))
	})
}

func (s *Server) likedByRoutes(r chi.Router) {
	r.Use(s.Auth.Protect)
	r.Post("/likePost", s.HandleLike(models.PostLike))
	r.Post("/likeComment", s.HandleLike(models.CommentLike))
	r.Post("/likeReply", s.HandleLike(models.ReplyLike))
	r.Delete("/unlikePost", s.HandleUnlike(models.PostLike))
	r.Delete("/unlikeComment", s.HandleUnlike(models.CommentLike))
	r.Delete("/unlikeReply", s.HandleUnlike(models.ReplyLike))

	r.Get("/getLike", s.HandleGetLike())
	r.Get("/postLikes", s.resp.Wrap(s.postLikes.List()))
	r.Get("/commentLikes", s.resp.Wrap(s.commentLikes.List()))
	r.Get("/replyLikes", s.resp.Wrap(s.replyLikes.List()))
	r.Get("/likedPosts/{userId}", s.HandleLikedPosts())
}

func (s *Server) followRoutes(r chi.Router) {
	r.Use(s.Auth.Protect)
	r.Get("/me/followers", s.resp.Wrap(s.followers.List()))
	r.Get("/me/followings", s.resp.Wrap(s.followings.List()))

	r.Post("/{userId}/follow", s.HandleFollow())
	r.Delete("/{userId}/unfollow", s.HandleUnfollow())
	r.Get("/{userId}/followers", s.resp.Wrap(s.followers.List()))
	r.Get("/{userId}/followings", s.resp.Wrap(s.followings.List()))
}

func (s *Server) categoryRoutes(r chi.Router) {
	r.Use(s.Auth.Protect)
	r.Get("/", s.resp.Wrap(s.categories.List()))
	r.Get("/{id}", s.resp.Wrap(s.categories.Get()))

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RestrictTo(models.RoleAdmin))
		r.Post("/", s.resp.Wrap(s.categories.Create()))
		r.Patch("/{id}", s.resp.Wrap(s.categories.Update()))
		r.Delete("/{id}", s.resp.Wrap(s.categories.Delete()))
	})
}
