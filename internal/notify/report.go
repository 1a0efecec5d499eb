package notify

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/salewatch/internal/model"
)

// WriteReport writes every record's message, each followed by a separator
// line, to path, replacing any previous report. It returns false without
// touching the file when records is empty.
func WriteReport(path string, records []model.SaleRecord) (bool, error) {
	if len(records) == 0 {
		return false, nil
	}

	var b strings.Builder
	for _, r := range records {
		b.WriteString(FormatMessage(r))
		b.WriteString(reportSeparator)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, eris.Wrapf(err, "notify: create %s", dir)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return false, eris.Wrapf(err, "notify: write report %s", path)
	}
	return true, nil
}
