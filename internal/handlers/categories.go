package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"qalam/internal/models"
	"qalam/internal/query"
)

// CreateCategoryRequest represents a request to create a category
type CreateCategoryRequest struct {
	Name   string   `json:"name"`
	Images []string `json:"images"`
}

// Categories have no owner; only admins reach the write routes.
func (s *Server) categoryResource() *Resource[models.Category, *models.Category] {
	return &Resource[models.Category, *models.Category]{
		Label:     "category",
		Store:     s.Stores.Categories,
		Query:     s.queryOptions(query.Schema{"createdAt": query.Time}),
		Gate:      s.Auth,
		Logger:    s.Logger,
		Updatable: []string{"name", "images"},
		Build: func(r *http.Request, _ models.Identity) (*models.Category, error) {
			var req CreateCategoryRequest
			if err := decodeJSON(nil, r, &req); err != nil {
				return nil, err
			}
			images := req.Images
			if images == nil {
				images = []string{}
			}
			return &models.Category{
				ID:        uuid.NewString(),
				Name:      req.Name,
				Images:    images,
				CreatedAt: time.Now().UTC(),
			}, nil
		},
	}
}
