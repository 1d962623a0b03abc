package callback

import (
	"embed"
	"html/template"
	"io"
)

//go:embed html/*.html
var content embed.FS

// pages holds the parsed success and error templates rendered to the
// user's browser after the redirect lands.
type pages struct {
	success *template.Template
	failure *template.Template
}

func loadPages() (*pages, error) {
	p := &pages{}
	var err error

	if p.success, err = template.ParseFS(content, "html/success.html"); err != nil {
		return nil, err
	}
	if p.failure, err = template.ParseFS(content, "html/error.html"); err != nil {
		return nil, err
	}
	return p, nil
}

// pageData feeds either template.
type pageData struct {
	Message string
}

func (p *pages) renderSuccess(w io.Writer, data pageData) error {
	return p.success.Execute(w, data)
}

func (p *pages) renderFailure(w io.Writer, data pageData) error {
	return p.failure.Execute(w, data)
}
