package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var bookmarksTemplate = template.Must(
	template.New("bookmarks.html").
		Funcs(template.FuncMap{
			"unix": func(t time.Time) int64 {
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			},
		}).
		ParseFS(templateFS, "templates/bookmarks.html"),
)

// RenderNetscape writes root as a Netscape bookmark file.
func RenderNetscape(root Folder) ([]byte, error) {
	var buf bytes.Buffer
	if err := bookmarksTemplate.Execute(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sanitizeFilename(title string) string {
	out := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "bookmarks"
	}
	return string(out)
}
