// Package pagecache stores fetched sale pages on disk, one file per fetch,
// keyed by the calendar date encoded in the source URL.
package pagecache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	// DefaultPrefix is the file name prefix of cached pages.
	DefaultPrefix = "kaldi_sale"
	ext           = ".html"
)

// Page is a stored fetch result.
type Page struct {
	Date string // YYYYMMDD
	Path string
	Body []byte
}

// Cache is an append-only directory of fetched pages.
type Cache struct {
	dir    string
	prefix string
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix overrides the file name prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithClock overrides the clock used for the time suffix of new files.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache rooted at dir. The directory is created lazily.
func New(dir string, opts ...Option) *Cache {
	c := &Cache{dir: dir, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Has reports whether any page is stored for date.
func (c *Cache) Has(date string) bool {
	p, err := c.Find(date)
	return err == nil && p != nil
}

// Find returns the first stored page for date in directory order, or nil
// when none exists. os.ReadDir sorts by name, so the earliest fetch of the
// day wins.
func (c *Cache) Find(date string) (*Page, error) {
	entries, err := c.readDir()
	if err != nil {
		return nil, err
	}

	want := c.prefix + "_" + date + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, want) || !strings.HasSuffix(name, ext) {
			continue
		}
		path := filepath.Join(c.dir, name)
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "pagecache: read %s", path)
		}
		return &Page{Date: date, Path: path, Body: body}, nil
	}
	return nil, nil
}

// Store writes body as a new page for date. Existing files are never
// overwritten; a same-second collision gets a numeric suffix.
func (c *Cache) Store(date string, body []byte) (*Page, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pagecache: create dir %s", c.dir)
	}

	stamp := c.now().Format("150405")
	base := fmt.Sprintf("%s_%s_%s", c.prefix, date, stamp)
	for i := 0; ; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(c.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "pagecache: create %s", path)
		}
		if _, err := f.Write(body); err != nil {
			f.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "pagecache: write %s", path)
		}
		if err := f.Close(); err != nil {
			return nil, eris.Wrapf(err, "pagecache: close %s", path)
		}
		return &Page{Date: date, Path: path, Body: body}, nil
	}
}

// List returns every cached page in directory order. Files that do not
// follow the naming scheme are still returned when they carry the page
// extension; their Date is empty.
func (c *Cache) List() ([]Page, error) {
	entries, err := c.readDir()
	if err != nil {
		return nil, err
	}

	var pages []Page
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "pagecache: read %s", path)
		}
		pages = append(pages, Page{Date: c.dateOf(e.Name()), Path: path, Body: body})
	}
	return pages, nil
}

func (c *Cache) readDir() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pagecache: list %s", c.dir)
	}
	return entries, nil
}

// dateOf extracts the YYYYMMDD segment from a cached file name.
func (c *Cache) dateOf(name string) string {
	rest, ok := strings.CutPrefix(name, c.prefix+"_")
	if !ok || len(rest) < 8 {
		return ""
	}
	date := rest[:8]
	if _, err := time.Parse("20060102", date); err != nil {
		return ""
	}
	return date
}
