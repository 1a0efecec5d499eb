// Package pipeline runs one fetch, extract, dedup and notify pass.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/notify"
	"github.com/sells-group/salewatch/internal/pagecache"
)

// Fetcher retrieves the listing page into the cache.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, force bool) (*pagecache.Page, error)
}

// PageSource lists every cached page.
type PageSource interface {
	List() ([]pagecache.Page, error)
}

// Extractor turns pages into records.
type Extractor interface {
	Extract(pages []pagecache.Page) []model.SaleRecord
}

// Deduper separates new records from notified ones and records deliveries.
type Deduper interface {
	Partition(ctx context.Context, records []model.SaleRecord) (fresh, seen []model.SaleRecord)
	Commit(ctx context.Context, records []model.SaleRecord) error
}

// Notifier delivers records to the sink.
type Notifier interface {
	Enabled() bool
	Deliver(ctx context.Context, records []model.SaleRecord) (int, error)
}

// Options selects what one run does.
type Options struct {
	// URL overrides today's generated listing URL.
	URL string
	// NoFetch parses the cache without downloading.
	NoFetch bool
	// FetchOnly stops after the download.
	FetchOnly bool
	// ForceFetch downloads even when the day's page is cached.
	ForceFetch bool
	// Notify enables deduplication and delivery.
	Notify bool
	// ForceNotify delivers every extracted record regardless of history.
	ForceNotify bool
	// OutputPath is the report file; empty disables the report.
	OutputPath string
}

// Pipeline orchestrates a single run.
type Pipeline struct {
	fetcher  Fetcher
	pages    PageSource
	extract  Extractor
	dedup    Deduper
	notifier Notifier
	now      func() time.Time
}

// New creates a Pipeline from its components.
func New(f Fetcher, pages PageSource, ex Extractor, dd Deduper, n Notifier) *Pipeline {
	return &Pipeline{
		fetcher:  f,
		pages:    pages,
		extract:  ex,
		dedup:    dd,
		notifier: n,
		now:      time.Now,
	}
}

// Run executes one pass. The result is always returned; err is set when a
// step failed in a way that ends the run (fetch, cache listing, report).
// A failed history commit is logged and delivery still happens. Delivery
// failures are reported through result.Failed.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*model.RunResult, error) {
	result := &model.RunResult{
		RunID:     uuid.New().String(),
		StartedAt: p.now(),
	}
	log := zap.L().With(zap.String("run_id", result.RunID))
	log.Info("pipeline: starting run",
		zap.Bool("fetch", !opts.NoFetch),
		zap.Bool("notify", opts.Notify),
	)

	err := p.run(ctx, opts, result, log)
	result.FinishedAt = p.now()
	if err != nil {
		result.Error = err.Error()
		log.Error("pipeline: run failed", zap.Error(err))
		return result, err
	}

	log.Info("pipeline: run complete",
		zap.Int("pages", result.Pages),
		zap.Int("extracted", result.Extracted),
		zap.Int("fresh", result.Fresh),
		zap.Int("delivered", result.Delivered),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, opts Options, result *model.RunResult, log *zap.Logger) error {
	t := &tracker{result: result, log: log}

	// Fetch
	if opts.NoFetch {
		t.skip(model.StepFetch, "fetch disabled")
	} else {
		err := t.track(model.StepFetch, func() (string, error) {
			page, err := p.fetcher.Fetch(ctx, opts.URL, opts.ForceFetch)
			if err != nil {
				return "", err
			}
			result.FetchedPath = page.Path
			return page.Path, nil
		})
		if err != nil {
			return eris.Wrap(err, "pipeline: fetch")
		}
		if opts.FetchOnly {
			return nil
		}
	}

	// Extract
	var records []model.SaleRecord
	err := t.track(model.StepExtract, func() (string, error) {
		pages, err := p.pages.List()
		if err != nil {
			return "", err
		}
		result.Pages = len(pages)
		records = p.extract.Extract(pages)
		result.Extracted = len(records)
		return "", nil
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: list cached pages")
	}
	if len(records) == 0 {
		log.Info("pipeline: no sales found")
		return nil
	}

	unique := uniqueByIdentity(records)
	result.Unique = len(unique)

	// Report
	if opts.OutputPath == "" {
		t.skip(model.StepReport, "no output path")
	} else {
		err := t.track(model.StepReport, func() (string, error) {
			if _, err := notify.WriteReport(opts.OutputPath, records); err != nil {
				return "", err
			}
			result.ReportPath = opts.OutputPath
			return opts.OutputPath, nil
		})
		if err != nil {
			return eris.Wrap(err, "pipeline: write report")
		}
	}

	// Dedup and notify
	switch {
	case !opts.Notify:
		t.skip(model.StepDedup, "notifications disabled")
		t.skip(model.StepNotify, "notifications disabled")
		return nil
	case !p.notifier.Enabled():
		log.Warn("pipeline: notification requested but no webhook is configured")
		t.skip(model.StepDedup, "no webhook configured")
		t.skip(model.StepNotify, "no webhook configured")
		return nil
	}

	var targets []model.SaleRecord
	err = t.track(model.StepDedup, func() (string, error) {
		if opts.ForceNotify {
			targets = unique
			result.Fresh = len(unique)
			return "forced", p.dedup.Commit(ctx, targets)
		}
		fresh, seen := p.dedup.Partition(ctx, records)
		result.Fresh, result.Seen = len(fresh), len(seen)
		targets = fresh
		return "", p.dedup.Commit(ctx, targets)
	})
	if err != nil {
		// Fail open: targets are delivered even when the history was not saved.
		log.Warn("pipeline: history commit failed, notifying anyway", zap.Error(err))
	}
	if len(targets) == 0 {
		log.Info("pipeline: no new sales to notify")
		t.skip(model.StepNotify, "nothing new")
		return nil
	}

	_ = t.track(model.StepNotify, func() (string, error) {
		delivered, err := p.notifier.Deliver(ctx, targets)
		result.Delivered = delivered
		result.Failed = len(targets) - delivered
		return "", err
	})
	return nil
}

// uniqueByIdentity keeps the first record of every identity, in order.
func uniqueByIdentity(records []model.SaleRecord) []model.SaleRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]model.SaleRecord, 0, len(records))
	for _, r := range records {
		h := r.IdentityHash()
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, r)
	}
	return out
}

// tracker times steps and appends their results.
type tracker struct {
	result *model.RunResult
	log    *zap.Logger
}

func (t *tracker) track(name string, fn func() (string, error)) error {
	start := time.Now()
	detail, err := fn()
	step := model.StepResult{
		Name:     name,
		Status:   model.StepStatusComplete,
		Duration: time.Since(start).Milliseconds(),
		Detail:   detail,
	}
	if err != nil {
		step.Status = model.StepStatusFailed
		step.Error = err.Error()
		t.log.Warn("pipeline: step failed",
			zap.String("step", name),
			zap.Int64("duration_ms", step.Duration),
			zap.Error(err),
		)
	} else {
		t.log.Debug("pipeline: step complete",
			zap.String("step", name),
			zap.Int64("duration_ms", step.Duration),
		)
	}
	t.result.Steps = append(t.result.Steps, step)
	return err
}

func (t *tracker) skip(name, reason string) {
	t.result.Steps = append(t.result.Steps, model.StepResult{
		Name:   name,
		Status: model.StepStatusSkipped,
		Detail: reason,
	})
}
