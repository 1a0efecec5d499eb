// Package extract turns cached sale listing pages into SaleRecords.
package extract

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/pagecache"
)

// DefaultSiteURL is the origin store links are resolved against.
const DefaultSiteURL = "https://map.kaldi.co.jp"

// Structural schema of the listing page.
const (
	rowSelector       = "table.cz_sp_table tr"
	storeCellSelector = "td[aria-label='店舗名、住所など']"
	saleCellSelector  = "td[aria-label='セール内容']"

	shopSelector    = "span.salename a"
	addressSelector = "span.saleadress"
	detailSelector  = "p.saledetail"
	notesSelector   = "p.saledetail_notes"
)

// Fields with a current form and an upcoming/preview form. The current form
// is tried first.
var (
	statusSelectors = []string{"span.saleicon", "span.saleicon_f"}
	titleSelectors  = []string{"span.saletitle", "span.saletitle_f"}
	dateSelectors   = []string{"p.saledate", "p.saledate_f"}
)

// Extractor parses listing pages with an optional store allow-list.
type Extractor struct {
	shops map[string]struct{}
	site  *url.URL
}

// New returns an Extractor accepting only the given store names. An empty
// list accepts every store.
func New(shops []string) *Extractor {
	site, _ := url.Parse(DefaultSiteURL)
	e := &Extractor{site: site}
	for _, s := range shops {
		if k := shopKey(s); k != "" {
			if e.shops == nil {
				e.shops = make(map[string]struct{})
			}
			e.shops[k] = struct{}{}
		}
	}
	return e
}

// Extract parses every page in order and concatenates the records. Rows are
// kept in document order and duplicates across pages are not merged.
// Unparseable pages are logged and skipped.
func (e *Extractor) Extract(pages []pagecache.Page) []model.SaleRecord {
	log := zap.L().With(zap.String("component", "extract"))

	var out []model.SaleRecord
	for _, p := range pages {
		records, err := e.ExtractPage(bytes.NewReader(p.Body))
		if err != nil {
			log.Warn("skipping unparseable page", zap.String("path", p.Path), zap.Error(err))
			continue
		}
		log.Debug("page parsed",
			zap.String("path", p.Path),
			zap.Int("bytes", len(p.Body)),
			zap.Int("records", len(records)),
		)
		out = append(out, records...)
	}
	return out
}

// ExtractPage parses a single page.
func (e *Extractor) ExtractPage(r io.Reader) ([]model.SaleRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	var records []model.SaleRecord
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		rec, ok := e.parseRow(row)
		if !ok {
			return
		}
		if !e.accepts(rec.Shop) {
			return
		}
		records = append(records, rec)
	})
	return records, nil
}

// parseRow reads one table row. ok is false for header rows, rows missing
// either labelled cell and rows without a store name.
func (e *Extractor) parseRow(row *goquery.Selection) (model.SaleRecord, bool) {
	if row.Find("td").Length() == 0 {
		return model.SaleRecord{}, false
	}
	store := row.Find(storeCellSelector).First()
	if store.Length() == 0 {
		return model.SaleRecord{}, false
	}
	sale := row.Find(saleCellSelector).First()
	if sale.Length() == 0 {
		return model.SaleRecord{}, false
	}

	anchor := store.Find(shopSelector).First()
	if anchor.Length() == 0 {
		return model.SaleRecord{}, false
	}
	shop := strings.TrimSpace(anchor.Text())
	if shop == "" {
		return model.SaleRecord{}, false
	}

	return model.SaleRecord{
		Shop:    shop,
		Address: text(store, addressSelector),
		Status:  firstText(store, statusSelectors),
		Title:   firstText(store, titleSelectors),
		Date:    firstText(sale, dateSelectors),
		Detail:  text(sale, detailSelector),
		Notes:   text(sale, notesSelector),
		URL:     e.resolve(anchor),
	}, true
}

func (e *Extractor) accepts(shop string) bool {
	if len(e.shops) == 0 {
		return true
	}
	_, ok := e.shops[shopKey(shop)]
	return ok
}

// resolve turns the anchor href into an absolute store URL.
func (e *Extractor) resolve(a *goquery.Selection) string {
	href, ok := a.Attr("href")
	if !ok {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return e.site.ResolveReference(ref).String()
}

// text returns the trimmed text of the first match, or "".
func text(s *goquery.Selection, selector string) string {
	m := s.Find(selector).First()
	if m.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(m.Text())
}

// firstText tries each selector in turn and returns the first that matches
// an element. A matching element with empty text still wins.
func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		m := s.Find(sel).First()
		if m.Length() > 0 {
			return strings.TrimSpace(m.Text())
		}
	}
	return ""
}

// shopKey normalizes a store name for allow-list comparison so that
// full-width and half-width spellings compare equal.
func shopKey(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
