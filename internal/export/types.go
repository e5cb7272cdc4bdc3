// Package export renders a collection as a downloadable bookmark file.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	// FormatNetscape is the bookmark-file HTML every browser imports.
	FormatNetscape Format = "netscape"
	FormatJSON     Format = "json"
)

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatNetscape:
		return FormatNetscape, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Folder is a collection, category, or subcategory in the exported tree.
type Folder struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	Folders     []Folder  `json:"folders,omitempty"`
	Links       []Link    `json:"links,omitempty"`
}

type Link struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}
