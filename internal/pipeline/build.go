package pipeline

import (
	"context"

	"github.com/sells-group/salewatch/internal/config"
	"github.com/sells-group/salewatch/internal/dedup"
	"github.com/sells-group/salewatch/internal/extract"
	"github.com/sells-group/salewatch/internal/fetcher"
	"github.com/sells-group/salewatch/internal/notify"
	"github.com/sells-group/salewatch/internal/pagecache"
	"github.com/sells-group/salewatch/internal/store"
)

// Build wires the production components described by cfg. The returned
// close function releases the history backend.
func Build(ctx context.Context, cfg *config.Config) (*Pipeline, func() error, error) {
	var cacheOpts []pagecache.Option
	if cfg.Cache.Prefix != "" {
		cacheOpts = append(cacheOpts, pagecache.WithPrefix(cfg.Cache.Prefix))
	}
	cache := pagecache.New(cfg.Cache.Dir, cacheOpts...)

	var fetchOpts []fetcher.Option
	if cfg.Fetch.BaseURL != "" {
		fetchOpts = append(fetchOpts, fetcher.WithBaseURL(cfg.Fetch.BaseURL))
	}
	dl := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout(),
	})

	history, err := store.Open(ctx, cfg.History.Driver, cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}

	p := New(
		fetcher.New(dl, cache, fetchOpts...),
		cache,
		extract.New(cfg.Extract.AllowList()),
		dedup.New(history),
		notify.New(cfg.Notify),
	)
	return p, history.Close, nil
}

// OptionsFromConfig returns the run options cfg implies. Fetch mode flags
// are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:         cfg.Fetch.URL,
		Notify:      cfg.Notify.Enabled,
		ForceNotify: cfg.Notify.Force,
		OutputPath:  cfg.Output.Path,
	}
}
