package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"qalam/internal/utils"
)

type Category struct {
	ID        string    `json:"_id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Images    []string  `json:"images" bson:"images"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	Version   int       `json:"-" bson:"__v"`
}

// CalligraphyScripts are the categories seeded by the simulator.
var CalligraphyScripts = []string{
	"Naskh", "Thuluth", "Diwani", "Ruqa`ah", "Kufic", "Maghribi",
	"Farsi", "Ta`liq", "Shikasta", "Suls", "Hafs",
}

func (c *Category) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	n := utf8.RuneCountInString(c.Name)
	switch {
	case n == 0:
		return utils.NewValidationError("The category must have a name")
	case n < 3:
		return utils.NewValidationError("The category name must be at least 3 characters long")
	case n > 20:
		return utils.NewValidationError("The category name must be at most 20 characters long")
	}
	return nil
}
