package filter

import (
	"fmt"
	"strings"

	"github.com/DmitriyVTitov/size"
	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"github.com/golang/groupcache/lru"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Cache backends.
const (
	// MemoryBackend keeps decoded tiles in an LRU bounded by their in-memory size.
	MemoryBackend = "memory"

	// CompressedBackend keeps msgpack encoded, compressed tiles in a freecache.
	CompressedBackend = "compressed"
)

// Compression of cached tiles for the compressed backend.
const (
	SnappyCompression = "snappy"
	ZstdCompression   = "zstd"
	NoCompression     = "none"
)

// freecache refuses anything smaller.
const minCompressedBytes = 512 * 1024

// CacheConfig describes a tile cache.
type CacheConfig struct {
	Backend     string
	Compression string
	MaxBytes    int
}

// DefaultCacheConfig returns a 64 MB memory cache.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Backend: MemoryBackend, Compression: SnappyCompression, MaxBytes: 64 << 20}
}

// CacheStats counts cache traffic since the last Initialize.
type CacheStats struct {
	Hits, Misses int64
	Entries      int64
	Bytes        int64
}

// Cache remembers the tiles produced by its input, keyed by resolution level and
// rectangle.  It is emptied whenever anything upstream changes.  Cached tiles are
// returned as is and must not be modified.
type Cache struct {
	node.Filter
	cfg CacheConfig

	lru   *lru.Cache
	bytes int64

	fc  *freecache.Cache
	enc *zstd.Encoder
	dec *zstd.Decoder

	hits, misses int64
	tile         *tg.Tile
}

// NewCache returns a cache using cfg.  Unknown backends fall back to memory.
func NewCache(cfg CacheConfig) *Cache {
	c := &Cache{}
	c.configure(cfg)
	return c
}

func (c *Cache) TypeName() string { return "cache" }

func (c *Cache) Config() CacheConfig { return c.cfg }

func (c *Cache) configure(cfg CacheConfig) {
	cfg.Backend = strings.ToLower(cfg.Backend)
	cfg.Compression = strings.ToLower(cfg.Compression)
	if cfg.Backend != CompressedBackend {
		cfg.Backend = MemoryBackend
	}
	switch cfg.Compression {
	case SnappyCompression, ZstdCompression, NoCompression:
	default:
		cfg.Compression = SnappyCompression
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultCacheConfig().MaxBytes
	}
	c.cfg = cfg
	c.fc = nil
	c.lru = nil
	c.Initialize()
}

// Initialize empties the cache.
func (c *Cache) Initialize() {
	if s := c.Stats(); s.Hits+s.Misses > 0 {
		tg.Debugf("cache %s dropping %d tiles (%s), %d hits, %d misses\n", c.ID(), s.Entries,
			humanize.Bytes(uint64(s.Bytes)), s.Hits, s.Misses)
	}
	c.hits, c.misses = 0, 0
	if c.cfg.Backend == CompressedBackend {
		if c.fc == nil {
			n := c.cfg.MaxBytes
			if n < minCompressedBytes {
				n = minCompressedBytes
			}
			c.fc = freecache.NewCache(n)
		} else {
			c.fc.Clear()
		}
		return
	}
	c.bytes = 0
	c.lru = lru.New(0)
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		c.bytes -= int64(size.Of(value.(*tg.Tile)))
	}
}

// Stats returns hit and miss counts and the current contents.
func (c *Cache) Stats() CacheStats {
	s := CacheStats{Hits: c.hits, Misses: c.misses}
	switch {
	case c.cfg.Backend == CompressedBackend && c.fc != nil:
		s.Entries = c.fc.EntryCount()
		s.Bytes = int64(c.cfg.MaxBytes)
	case c.lru != nil:
		s.Entries = int64(c.lru.Len())
		s.Bytes = c.bytes
	}
	return s
}

func cacheKey(rect tg.IRect, level int) string {
	return fmt.Sprintf("%d/%s", level, rect)
}

func (c *Cache) GetTile(rect tg.IRect, level int) *tg.Tile {
	if !c.Enabled() || rect.HasNaNs() {
		return c.Filter.GetTile(rect, level)
	}
	key := cacheKey(rect, level)
	if t := c.lookup(key); t != nil {
		c.hits++
		return t
	}
	c.misses++
	in := c.Filter.GetTile(rect, level)
	if in == nil || in.Status() == tg.StatusNull {
		return in
	}
	return c.store(key, in)
}

func (c *Cache) lookup(key string) *tg.Tile {
	if c.cfg.Backend != CompressedBackend {
		if v, found := c.lru.Get(key); found {
			return v.(*tg.Tile)
		}
		return nil
	}
	data, err := c.fc.Get([]byte(key))
	if err != nil {
		if err != freecache.ErrNotFound {
			tg.Errorf("cache %s: %v\n", c.ID(), err)
		}
		return nil
	}
	if data, err = c.decompress(data); err != nil {
		tg.Errorf("cache %s: corrupt entry %s: %v\n", c.ID(), key, err)
		return nil
	}
	if c.tile == nil {
		c.tile = &tg.Tile{}
	}
	if _, err := c.tile.UnmarshalMsg(data); err != nil {
		tg.Errorf("cache %s: bad tile encoding for %s: %v\n", c.ID(), key, err)
		return nil
	}
	return c.tile
}

func (c *Cache) store(key string, in *tg.Tile) *tg.Tile {
	if c.cfg.Backend != CompressedBackend {
		t := in.Clone()
		c.lru.Add(key, t)
		c.bytes += int64(size.Of(t))
		for c.bytes > int64(c.cfg.MaxBytes) && c.lru.Len() > 1 {
			c.lru.RemoveOldest()
		}
		return t
	}
	data, err := in.MarshalMsg(nil)
	if err != nil {
		tg.Errorf("cache %s: unable to encode tile %s: %v\n", c.ID(), in.Rect(), err)
		return in
	}
	if err := c.fc.Set([]byte(key), c.compress(data), 0); err != nil {
		// too large for the cache; serve it uncached
		tg.Debugf("cache %s: not caching %s (%s): %v\n", c.ID(), key, humanize.Bytes(uint64(len(data))), err)
	}
	return in
}

// Entries of the compressed backend lead with the codec that encoded them.
const (
	rawEntry byte = iota
	snappyEntry
	zstdEntry
)

var newZstdWriter = func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) }

func (c *Cache) compress(data []byte) []byte {
	switch c.cfg.Compression {
	case ZstdCompression:
		if c.enc == nil {
			enc, err := newZstdWriter()
			if err != nil {
				tg.Errorf("cache %s: no zstd encoder, storing uncompressed: %v\n", c.ID(), err)
				return append([]byte{rawEntry}, data...)
			}
			c.enc = enc
		}
		return c.enc.EncodeAll(data, []byte{zstdEntry})
	case NoCompression:
		return append([]byte{rawEntry}, data...)
	default:
		return append([]byte{snappyEntry}, snappy.Encode(nil, data)...)
	}
}

func (c *Cache) decompress(entry []byte) ([]byte, error) {
	if len(entry) == 0 {
		return nil, fmt.Errorf("empty entry")
	}
	data := entry[1:]
	switch entry[0] {
	case rawEntry:
		return data, nil
	case snappyEntry:
		return snappy.Decode(nil, data)
	case zstdEntry:
		if c.dec == nil {
			var err error
			if c.dec, err = zstd.NewReader(nil); err != nil {
				return nil, err
			}
		}
		return c.dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unknown entry codec %d", entry[0])
	}
}

func (c *Cache) SaveState(k tg.KWL, prefix string) error {
	k.Add(prefix, "backend", c.cfg.Backend)
	k.Add(prefix, "compression", c.cfg.Compression)
	k.Add(prefix, "max_bytes", c.cfg.MaxBytes)
	return nil
}

func (c *Cache) LoadState(k tg.KWL, prefix string) error {
	cfg := DefaultCacheConfig()
	if v, found := k.Find(prefix, "backend"); found {
		cfg.Backend = v
	}
	if v, found := k.Find(prefix, "compression"); found {
		cfg.Compression = v
	}
	if _, found := k.Find(prefix, "max_bytes"); found {
		n, err := k.FindInt(prefix, "max_bytes")
		if err != nil {
			return err
		}
		cfg.MaxBytes = n
	}
	c.configure(cfg)
	return nil
}
