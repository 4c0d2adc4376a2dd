package source

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/tilegraph/tg"
)

const (
	srtmNull      = -32768
	srtmMinHeight = -499
	srtmMaxHeight = 8849
)

// SRTM reads one Shuttle Radar Topography Mission cell, either a raw ".hgt" file or a
// ".hgt.zip" archive.  Cells are named by their lower left corner, e.g., N21E034, and
// hold square grids of big endian int16 posts with one post of overlap between
// neighboring cells.
type SRTM struct {
	Handler
	data *raster
}

// NewSRTM returns an unopened SRTM source.
func NewSRTM() *SRTM {
	return &SRTM{}
}

func (s *SRTM) TypeName() string { return "srtm_source" }

// ParseSRTMName returns the latitude and longitude of a cell's lower left corner.
func ParseSRTMName(path string) (lat, lon int, err error) {
	name := strings.ToUpper(filepath.Base(path))
	var ns, ew string
	if _, err = fmt.Sscanf(name, "%1s%d%1s%d", &ns, &lat, &ew, &lon); err != nil {
		return 0, 0, fmt.Errorf("bad SRTM cell name %q: %v", name, err)
	}
	switch ns {
	case "N":
	case "S":
		lat = -lat
	default:
		return 0, 0, fmt.Errorf("bad SRTM cell name %q", name)
	}
	switch ew {
	case "E":
	case "W":
		lon = -lon
	default:
		return 0, 0, fmt.Errorf("bad SRTM cell name %q", name)
	}
	return lat, lon, nil
}

func (s *SRTM) Open(path string) error {
	s.Close()
	lat, lon, err := ParseSRTMName(path)
	if err != nil {
		return err
	}
	size, err := hgtSize(path)
	if err != nil {
		return err
	}
	posts := int(math.Sqrt(float64(size / 2)))
	if posts*posts*2 != int(size) || posts < 2 {
		return fmt.Errorf("%q holds %s, not a square grid of int16 posts", path, humanize.Bytes(size))
	}
	s.setInfo(tg.NewIRectWH(0, 0, posts, posts), 1, tg.Int16)
	s.nulls[0] = srtmNull
	s.mins[0] = srtmMinHeight
	s.maxs[0] = srtmMaxHeight
	spacing := 1 / float64(posts-1)
	s.geom = tg.NewNorthUpGeometry(float64(lon), float64(lat+1), spacing, spacing, tg.UnitsDegrees)
	s.path = path
	s.data = newRaster(func() (*tg.Tile, error) {
		return readHGT(path, s.newTile(s.rect))
	})
	s.open = true
	return nil
}

func (s *SRTM) Close() {
	s.reset()
	s.data = nil
}

func (s *SRTM) GetTile(rect tg.IRect, level int) *tg.Tile {
	return s.serve(s, rect, level, func(level int) (*tg.Tile, error) {
		return s.data.level(level, s.Decimation(level))
	})
}

func (s *SRTM) SaveState(k tg.KWL, prefix string) error {
	s.saveState(k, prefix)
	return nil
}

func (s *SRTM) LoadState(k tg.KWL, prefix string) error {
	path, found := k.Find(prefix, "filename")
	if !found || path == "" {
		return fmt.Errorf("srtm state has no filename")
	}
	if err := s.Open(path); err != nil {
		return err
	}
	return s.loadDecimations(k, prefix)
}

func isZip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zip")
}

// hgtSize returns the byte size of the post grid without reading it.
func hgtSize(path string) (uint64, error) {
	if !isZip(path) {
		fi, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return uint64(fi.Size()), nil
	}
	z, err := zip.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer z.Close()
	f, err := hgtMember(&z.Reader)
	if err != nil {
		return 0, fmt.Errorf("%q: %v", path, err)
	}
	return f.UncompressedSize64, nil
}

// hgtMember returns the grid inside an archive, skipping junk entries like "._N21E034.hgt".
func hgtMember(z *zip.Reader) (*zip.File, error) {
	for _, f := range z.File {
		if strings.HasPrefix(filepath.Base(f.Name), ".") || f.FileInfo().IsDir() {
			continue
		}
		return f, nil
	}
	return nil, fmt.Errorf("no height grid in archive")
}

func readHGT(path string, t *tg.Tile) (*tg.Tile, error) {
	var b []byte
	if isZip(path) {
		z, err := zip.OpenReader(path)
		if err != nil {
			return nil, err
		}
		defer z.Close()
		f, err := hgtMember(&z.Reader)
		if err != nil {
			return nil, err
		}
		r, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer r.Close()
		if b, err = io.ReadAll(r); err != nil {
			return nil, err
		}
	} else {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	n := t.NumPixels()
	if len(b) != 2*n {
		return nil, fmt.Errorf("%q has %d bytes, expected %d", path, len(b), 2*n)
	}
	t.Allocate()
	for i := 0; i < n; i++ {
		t.SetValue(0, i, float64(int16(binary.BigEndian.Uint16(b[2*i:]))))
	}
	t.ValidateStatus()
	return t, nil
}
