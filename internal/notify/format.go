package notify

import (
	"strings"

	"github.com/sells-group/salewatch/internal/model"
)

// Placeholders used when a field is empty.
const (
	DefaultStatus = "新セール"
	DefaultShop   = "不明"
	DefaultTitle  = "セール詳細不明"
	DefaultDate   = "日付不明"
	DefaultURL    = "#"
)

// reportSeparator follows every message in the report file.
var reportSeparator = "\n" + strings.Repeat("-", 40) + "\n"

// FormatMessage renders r as the multi-line notification text.
func FormatMessage(r model.SaleRecord) string {
	var b strings.Builder
	b.WriteString("🔔 " + or(r.Status, DefaultStatus) + "!\n")
	b.WriteString("📍 " + or(r.Shop, DefaultShop) + "\n")
	b.WriteString("🏬 " + r.Address + "\n")
	b.WriteString("🎯 " + or(r.Title, DefaultTitle) + "\n")
	b.WriteString("📅 " + or(r.Date, DefaultDate) + "\n")
	b.WriteString("💰 " + r.Detail + "\n")
	b.WriteString("📝 " + r.Notes + "\n")
	b.WriteString("🔗 " + or(r.URL, DefaultURL))
	return b.String()
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
