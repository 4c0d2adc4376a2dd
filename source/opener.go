package source

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Constructor returns a new, unopened tile source.
type Constructor func() TileSource

// Opener picks a tile source implementation for a file by its extension.
type Opener struct {
	mu    sync.RWMutex
	byExt map[string]Constructor
}

// NewOpener returns an opener knowing every built-in format.
func NewOpener() *Opener {
	o := &Opener{byExt: make(map[string]Constructor)}
	image := func() TileSource { return NewImageFile() }
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp"} {
		o.Register(ext, image)
	}
	srtm := func() TileSource { return NewSRTM() }
	o.Register(".hgt", srtm)
	o.Register(".hgt.zip", srtm)
	return o
}

// Register associates a lower case extension, with its leading dot, with a constructor.
func (o *Opener) Register(ext string, c Constructor) {
	o.mu.Lock()
	o.byExt[strings.ToLower(ext)] = c
	o.mu.Unlock()
}

// Extensions returns the handled extensions in sorted order.
func (o *Opener) Extensions() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	exts := make([]string, 0, len(o.byExt))
	for ext := range o.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Handles returns true if some constructor is registered for the file's extension.
func (o *Opener) Handles(path string) bool {
	return o.constructor(path) != nil
}

func (o *Opener) constructor(path string) Constructor {
	name := strings.ToLower(filepath.Base(path))
	o.mu.RLock()
	defer o.mu.RUnlock()
	// longest matching extension wins so ".hgt.zip" beats ".zip"
	var best Constructor
	var bestLen int
	for ext, c := range o.byExt {
		if strings.HasSuffix(name, ext) && len(ext) > bestLen {
			best, bestLen = c, len(ext)
		}
	}
	return best
}

// Open returns an opened tile source for path.
func (o *Opener) Open(path string) (TileSource, error) {
	c := o.constructor(path)
	if c == nil {
		return nil, fmt.Errorf("%q: %w", path, tg.ErrUnsupportedFormat)
	}
	src := c()
	if err := src.Open(path); err != nil {
		return nil, err
	}
	return src, nil
}

// RegisterTypes adds every source type to a node registry.
func RegisterTypes(reg *node.Registry) error {
	types := map[string]node.Factory{
		"memory_source": func() node.Node { return &Memory{} },
		"image_file":    func() node.Node { return NewImageFile() },
		"srtm_source":   func() node.Node { return NewSRTM() },
	}
	for name, f := range types {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
