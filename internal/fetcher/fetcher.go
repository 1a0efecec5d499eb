// Package fetcher retrieves the date-parameterized sale listing page,
// going through the page cache unless a refetch is forced.
package fetcher

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/salewatch/internal/pagecache"
)

// DefaultBaseURL is the sale listing endpoint without the date parameter.
const DefaultBaseURL = "https://map.kaldi.co.jp/kaldi/articleList?account=kaldi&accmd=1&ftop=1"

// DateParam is the query parameter carrying the listing date (YYYY-MM-DD).
const DateParam = "kkw001"

var datePattern = regexp.MustCompile(`[?&]` + DateParam + `=(\d{4})-(\d{2})-(\d{2})`)

// Downloader performs the network fetch of a single URL.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// PageCache is the subset of the page cache the fetcher depends on.
type PageCache interface {
	Find(date string) (*pagecache.Page, error)
	Store(date string, body []byte) (*pagecache.Page, error)
}

// Fetcher resolves the listing URL, consults the cache and downloads.
type Fetcher struct {
	dl      Downloader
	cache   PageCache
	baseURL string
	now     func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBaseURL overrides the listing endpoint.
func WithBaseURL(u string) Option {
	return func(f *Fetcher) { f.baseURL = u }
}

// WithClock overrides the clock used to build today's URL.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher.
func New(dl Downloader, cache PageCache, opts ...Option) *Fetcher {
	f := &Fetcher{dl: dl, cache: cache, baseURL: DefaultBaseURL, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// URLFor returns the listing URL for the calendar date of t.
func (f *Fetcher) URLFor(t time.Time) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse base url %q", f.baseURL)
	}
	// Appended rather than re-encoded so the upstream parameter order is kept.
	sep := "?"
	if u.RawQuery != "" {
		sep = "&"
	}
	return f.baseURL + sep + DateParam + "=" + t.Format("2006-01-02"), nil
}

// DateKey returns the YYYYMMDD key encoded in rawURL, or false when the
// URL carries no date parameter.
func DateKey(rawURL string) (string, bool) {
	m := datePattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1] + m[2] + m[3], true
}

// Fetch returns the page for rawURL. An empty rawURL means today's listing.
// A cached page for the URL's date is returned without network I/O unless
// force is set. Download failures are returned as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, force bool) (*pagecache.Page, error) {
	log := zap.L().With(zap.String("component", "fetcher"))

	if rawURL == "" {
		u, err := f.URLFor(f.now())
		if err != nil {
			return nil, err
		}
		rawURL = u
		log.Info("using generated url", zap.String("url", rawURL))
	}

	date, keyed := DateKey(rawURL)
	if keyed && !force {
		page, err := f.cache.Find(date)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: cache lookup")
		}
		if page != nil {
			log.Info("page cache hit, skipping download",
				zap.String("date", date),
				zap.String("path", page.Path),
			)
			return page, nil
		}
	}

	body, err := f.dl.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if !keyed {
		date = f.now().Format("20060102")
	}
	page, err := f.cache.Store(date, body)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: store page")
	}
	log.Info("page saved",
		zap.String("path", page.Path),
		zap.Int("bytes", len(body)),
	)
	return page, nil
}
