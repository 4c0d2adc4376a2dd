package source

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/janelia-flyem/tilegraph/tg"
)

// ImageFile reads PNG, JPEG, GIF, TIFF and BMP files.  Open only reads the header;
// the whole image is decoded on the first tile request.  Fully transparent pixels are
// null.  A world file next to the image supplies the geometry.
type ImageFile struct {
	Handler
	data *raster
}

// NewImageFile returns an unopened image file source.
func NewImageFile() *ImageFile {
	return &ImageFile{}
}

func (f *ImageFile) TypeName() string { return "image_file" }

func (f *ImageFile) Open(path string) error {
	f.Close()
	fp, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fp.Close()
	cfg, format, err := image.DecodeConfig(fp)
	if err != nil {
		return fmt.Errorf("reading image header of %q: %v", path, err)
	}
	bands, scalar := 3, tg.Uint8
	wide := false
	switch cfg.ColorModel {
	case color.GrayModel:
		bands = 1
	case color.Gray16Model:
		bands, scalar = 1, tg.Uint16
		wide = true
	case color.RGBA64Model, color.NRGBA64Model:
		scalar = tg.Uint16
		wide = true
	}
	f.setInfo(tg.NewIRectWH(0, 0, cfg.Width, cfg.Height), bands, scalar)
	f.path = path
	f.geom = findWorldFile(path)
	f.data = newRaster(func() (*tg.Tile, error) {
		return decodeImageFile(path, f.newTile(f.rect), wide)
	})
	f.open = true
	tg.Debugf("opened %s image %q: %d x %d, %d bands of %s\n", format, path, cfg.Width, cfg.Height, bands, scalar)
	return nil
}

func (f *ImageFile) Close() {
	f.reset()
	f.data = nil
}

func (f *ImageFile) GetTile(rect tg.IRect, level int) *tg.Tile {
	return f.serve(f, rect, level, func(level int) (*tg.Tile, error) {
		return f.data.level(level, f.Decimation(level))
	})
}

func (f *ImageFile) SaveState(k tg.KWL, prefix string) error {
	f.saveState(k, prefix)
	return nil
}

func (f *ImageFile) LoadState(k tg.KWL, prefix string) error {
	path, found := k.Find(prefix, "filename")
	if !found || path == "" {
		return fmt.Errorf("image file state has no filename")
	}
	if err := f.Open(path); err != nil {
		return err
	}
	return f.loadDecimations(k, prefix)
}

func decodeImageFile(path string, t *tg.Tile, wide bool) (*tg.Tile, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	img, _, err := image.Decode(fp)
	if err != nil {
		return nil, err
	}
	t.Allocate()
	b := img.Bounds()
	w := t.Width()
	bands := t.NumBands()
	for y := 0; y < t.Height(); y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			c := img.At(b.Min.X+x, b.Min.Y+y)
			var vals [3]float64
			var alpha uint32
			if wide {
				n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				vals = [3]float64{float64(n.R), float64(n.G), float64(n.B)}
				alpha = uint32(n.A)
			} else {
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				vals = [3]float64{float64(n.R), float64(n.G), float64(n.B)}
				alpha = uint32(n.A)
			}
			for band := 0; band < bands; band++ {
				if alpha == 0 {
					t.SetValue(band, i, t.NullPixel(band))
				} else {
					t.SetValue(band, i, vals[band])
				}
			}
		}
	}
	t.ValidateStatus()
	return t, nil
}

// findWorldFile looks for "name.wld", the three letter convention ("name.tfw" for
// "name.tif") and the appended convention ("name.tifw").
func findWorldFile(path string) *tg.AffineGeometry {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidates := []string{base + ".wld", path + "w"}
	if len(ext) >= 3 {
		candidates = append(candidates, base+"."+ext[1:2]+ext[len(ext)-1:]+"w")
	}
	for _, name := range candidates {
		fp, err := os.Open(name)
		if err != nil {
			continue
		}
		g, err := tg.ParseWorldFile(fp, tg.UnitsUnknown)
		fp.Close()
		if err != nil {
			tg.Warningf("ignoring world file %q: %v\n", name, err)
			continue
		}
		return g
	}
	return nil
}
