// Package web provides the embedded page and script of the upload component.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

var funcs = template.FuncMap{
	// percent renders a 0..1 confidence as a percentage
	"percent": func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p * 100
	},
}

// Templates parses the embedded page templates
func Templates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(templateFiles, "templates/*.html")
}

// StaticFS returns the embedded static assets with static/ as root
func StaticFS() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}

// Register installs the page templates and serves assets under /static
func Register(r *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return err
	}
	r.SetHTMLTemplate(tmpl)

	assets, err := StaticFS()
	if err != nil {
		return err
	}
	r.StaticFS("/static", http.FS(assets))
	return nil
}
