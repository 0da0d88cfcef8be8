package main

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lanekessler/renderpipe/internal/assets"
	"github.com/lanekessler/renderpipe/internal/xerrors"
)

//go:embed site
var siteFS embed.FS

// materializeSite writes the embedded demo assets to disk and returns a
// registry mapping their page references to those paths. Bundling works
// on real files so the embedded copies are extracted once at startup.
func materializeSite(dir string) (*assets.MapRegistry, error) {
	sub, err := fs.Sub(siteFS, "site")
	if err != nil {
		return nil, xerrors.Wrap(err, "embedded site")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create site dir %s", dir)
	}

	reg := assets.NewMapRegistry()
	err = fs.WalkDir(sub, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(sub, name)
		if err != nil {
			return xerrors.Wrapf(err, "read embedded %s", name)
		}
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return xerrors.Wrapf(err, "write %s", dst)
		}
		reg.Register("/"+name, dst)
		return nil
	})
	if err != nil {
		return nil, err
	}

	reg.AddExtra("/js/widgets.js", assets.PlaceBefore, "window.WIDGET_ENV='demo';")
	reg.AddExtra("/js/widgets.js", assets.PlaceAfter, "initWidgets();")
	return reg, nil
}
