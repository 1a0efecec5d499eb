package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SaleRecord is one promotion for one store as listed on the sale page.
// Fields the markup omits are empty strings, never absent.
type SaleRecord struct {
	Shop    string `json:"shop"`
	Address string `json:"address"`
	Status  string `json:"status"`
	Title   string `json:"title"`
	Date    string `json:"date"`
	Detail  string `json:"detail"`
	Notes   string `json:"notes"`
	URL     string `json:"url"`
}

// IdentityHash returns the hex SHA-256 of the record's identity tuple
// (shop, title, date, detail). Address, status, notes and url are not part
// of the identity.
func (r SaleRecord) IdentityHash() string {
	key := strings.Join([]string{r.Shop, r.Title, r.Date, r.Detail}, "|")
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// HistoryEntry records the first time an identity was processed for
// notification. Shop, title and date are copied for human inspection.
type HistoryEntry struct {
	NotifiedAt time.Time `json:"notified_at"`
	Shop       string    `json:"shop"`
	Title      string    `json:"title"`
	Date       string    `json:"date"`
}

// NewHistoryEntry builds the history entry for r processed at ts.
func NewHistoryEntry(r SaleRecord, ts time.Time) HistoryEntry {
	return HistoryEntry{
		NotifiedAt: ts,
		Shop:       r.Shop,
		Title:      r.Title,
		Date:       r.Date,
	}
}
