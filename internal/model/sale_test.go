package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentityHash_Format(t *testing.T) {
	t.Parallel()

	h := SaleRecord{Shop: "渋谷店", Title: "コーヒーの日", Date: "10/1", Detail: "10%オフ"}.IdentityHash()
	assert.Len(t, h, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", h)
}

func TestIdentityHash_IgnoresNonIdentityFields(t *testing.T) {
	t.Parallel()

	base := SaleRecord{Shop: "X", Title: "T1", Date: "D1", Detail: "d"}
	variant := base
	variant.Address = "東京都渋谷区"
	variant.Status = "予告"
	variant.Notes = "一部除外品あり"
	variant.URL = "https://map.kaldi.co.jp/kaldi/detailMap?account=kaldi&bid=1"

	assert.Equal(t, base.IdentityHash(), variant.IdentityHash())
}

func TestIdentityHash_IdentityFieldsMatter(t *testing.T) {
	t.Parallel()

	base := SaleRecord{Shop: "X", Title: "T1", Date: "D1", Detail: "d"}

	tests := []struct {
		name string
		mut  func(r *SaleRecord)
	}{
		{"shop", func(r *SaleRecord) { r.Shop = "Y" }},
		{"title", func(r *SaleRecord) { r.Title = "T2" }},
		{"date", func(r *SaleRecord) { r.Date = "D2" }},
		{"detail", func(r *SaleRecord) { r.Detail = "e" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := base
			tt.mut(&r)
			assert.NotEqual(t, base.IdentityHash(), r.IdentityHash())
		})
	}
}

func TestIdentityHash_SeparatorIsSignificant(t *testing.T) {
	t.Parallel()

	a := SaleRecord{Shop: "ab", Title: "c"}
	b := SaleRecord{Shop: "a", Title: "bc"}
	assert.NotEqual(t, a.IdentityHash(), b.IdentityHash())
}

func TestNewHistoryEntry(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	e := NewHistoryEntry(SaleRecord{Shop: "X", Title: "T", Date: "D", Address: "A"}, ts)

	assert.Equal(t, HistoryEntry{NotifiedAt: ts, Shop: "X", Title: "T", Date: "D"}, e)
}
