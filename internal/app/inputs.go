package app

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"shelfmark/api/internal/store"
)

const (
	maxNameLength        = 200
	maxDescriptionLength = 2000
)

type CollectionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SubcategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ItemInput struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// UpdateInput carries a partial edit. Title is accepted as an alias of Name
// for items.
type UpdateInput struct {
	Name        *string `json:"name"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	URL         *string `json:"url"`
}

func (in CollectionInput) entity() (store.Entity, error) {
	return labelled(store.KindCollection, in.Name, in.Description)
}

func (in CategoryInput) entity() (store.Entity, error) {
	return labelled(store.KindCategory, in.Name, in.Description)
}

func (in SubcategoryInput) entity() (store.Entity, error) {
	return labelled(store.KindSubcategory, in.Name, in.Description)
}

func (in ItemInput) entity() (store.Entity, error) {
	entity, err := labelled(store.KindItem, in.Title, in.Description)
	if err != nil {
		return store.Entity{}, err
	}
	link, err := normalizeURL(in.URL)
	if err != nil {
		return store.Entity{}, err
	}
	entity.URL = link
	return entity, nil
}

func (in UpdateInput) patch(kind store.Kind) (store.EntityPatch, error) {
	var patch store.EntityPatch
	name := in.Name
	if kind == store.KindItem && in.Title != nil {
		name = in.Title
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if err := checkName(kind, trimmed); err != nil {
			return patch, err
		}
		patch.Name = &trimmed
	}
	if in.Description != nil {
		trimmed := strings.TrimSpace(*in.Description)
		if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
			return patch, validationError("description is too long")
		}
		patch.Description = &trimmed
	}
	if in.URL != nil {
		if kind != store.KindItem {
			return patch, validationError("only items have a url")
		}
		link, err := normalizeURL(*in.URL)
		if err != nil {
			return patch, err
		}
		patch.URL = &link
	}
	if patch.Name == nil && patch.Description == nil && patch.URL == nil {
		return patch, validationError("nothing to update")
	}
	return patch, nil
}

func labelled(kind store.Kind, name, description string) (store.Entity, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := checkName(kind, name); err != nil {
		return store.Entity{}, err
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return store.Entity{}, validationError("description is too long")
	}
	return store.Entity{Kind: kind, Name: name, Description: description}, nil
}

func checkName(kind store.Kind, name string) error {
	field := "name"
	if kind == store.KindItem {
		field = "title"
	}
	if name == "" {
		return validationError(field + " is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return validationError(field + " is too long")
	}
	return nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", validationError("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", validationError("url is not valid")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", validationError("url must use http or https")
	}
	return parsed.String(), nil
}
