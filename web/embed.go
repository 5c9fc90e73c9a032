// Package web embeds the dashboard page and its static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/* static/*
var assets embed.FS

// Static is the static/ subtree of the embedded assets; the dashboard
// serves it under /static/.
var Static = mustSub("static")

// IndexHTML returns the dashboard shell page.
func IndexHTML() ([]byte, error) {
	return assets.ReadFile("templates/index.html")
}

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(assets, dir)
	if err != nil {
		panic("web: embedded " + dir + " tree missing: " + err.Error())
	}
	return sub
}
