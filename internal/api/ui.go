package api

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed web/templates/*.html
var templateFiles embed.FS

//go:embed web/assets
var assetFiles embed.FS

var (
	pages  = template.Must(template.ParseFS(templateFiles, "web/templates/*.html"))
	assets = mustSub(assetFiles, "web/assets")
)

type indexPage struct {
	Title         string
	GatingEnabled bool
}

type resultFragment struct {
	Preview  template.URL
	Filename string
	Text     string
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
