package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/salewatch/internal/config"
	"github.com/sells-group/salewatch/internal/model"
	"github.com/sells-group/salewatch/internal/pipeline"
)

// runFlags holds the raw values of the run command's flags.
type runFlags struct {
	URL         string
	Notify      bool
	Output      string
	NoFetch     bool
	FetchOnly   bool
	ForceFetch  bool
	Shops       string
	AllShops    bool
	Webhook     string
	HistoryFile string
	ForceNotify bool
	JSON        bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, parse, and optionally notify once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runCfg, opts, err := resolveRunConfig(cfg, runOpts, cmd.Flags().Changed)
		if err != nil {
			return err
		}

		p, closeFn, err := pipeline.Build(ctx, runCfg)
		if err != nil {
			return eris.Wrap(err, "build pipeline")
		}
		defer closeFn() //nolint:errcheck

		result, err := p.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		if runOpts.JSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		printSummary(cmd.OutOrStdout(), result, opts)
		return nil
	},
}

// resolveRunConfig layers the flags that were set on top of base and
// returns the effective configuration and run options. base is not modified.
func resolveRunConfig(base *config.Config, f runFlags, changed func(string) bool) (*config.Config, pipeline.Options, error) {
	if f.NoFetch && f.FetchOnly {
		return nil, pipeline.Options{}, eris.New("--no-fetch and --fetch-only are mutually exclusive")
	}

	c := *base
	c.Extract.Shops = append([]string(nil), base.Extract.Shops...)

	if changed("url") {
		c.Fetch.URL = f.URL
	}
	if changed("output") {
		c.Output.Path = f.Output
	}
	if changed("shops") {
		c.Extract.Shops = splitList(f.Shops)
	}
	if changed("all-shops") {
		c.Extract.AllShops = f.AllShops
	}
	if changed("discord-webhook") {
		c.Notify.WebhookURL = f.Webhook
	}
	if changed("history-file") {
		c.History.Path = f.HistoryFile
	}
	if changed("notify") {
		c.Notify.Enabled = f.Notify
	}
	if changed("force-notify") {
		c.Notify.Force = f.ForceNotify
		if f.ForceNotify {
			c.Notify.Enabled = true
		}
	}

	if err := c.Validate("run"); err != nil {
		return nil, pipeline.Options{}, err
	}

	opts := pipeline.OptionsFromConfig(&c)
	opts.NoFetch = f.NoFetch
	opts.FetchOnly = f.FetchOnly
	opts.ForceFetch = f.ForceFetch
	return &c, opts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printSummary(w io.Writer, r *model.RunResult, opts pipeline.Options) {
	switch {
	case opts.FetchOnly:
		fmt.Fprintf(w, "saved %s\n", r.FetchedPath)
		return
	case r.Extracted == 0:
		fmt.Fprintln(w, "no sales found")
		return
	}

	fmt.Fprintf(w, "%d sales extracted from %d cached pages\n", r.Extracted, r.Pages)
	if r.ReportPath != "" {
		fmt.Fprintf(w, "%d sales written to %s\n", r.Unique, r.ReportPath)
	}
	if s := r.Step(model.StepNotify); s != nil && s.Status != model.StepStatusSkipped {
		fmt.Fprintf(w, "%d new sales notified (%d already notified, %d failed)\n", r.Delivered, r.Seen, r.Failed)
	} else if s != nil && opts.Notify {
		fmt.Fprintf(w, "notification skipped: %s\n", s.Detail)
	}
	zap.L().Debug("run summary printed", zap.String("run_id", r.RunID))
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.URL, "url", "", "listing URL (default: generated for today)")
	f.BoolVar(&runOpts.Notify, "notify", false, "send new sales to the webhook")
	f.StringVar(&runOpts.Output, "output", "", "report file (default from config, sales_output.txt)")
	f.BoolVar(&runOpts.NoFetch, "no-fetch", false, "parse cached pages without downloading")
	f.BoolVar(&runOpts.FetchOnly, "fetch-only", false, "download the page and stop")
	f.BoolVar(&runOpts.ForceFetch, "force-fetch", false, "download even if today's page is cached")
	f.StringVar(&runOpts.Shops, "shops", "", "comma separated store allow-list")
	f.BoolVar(&runOpts.AllShops, "all-shops", false, "include every store")
	f.StringVar(&runOpts.Webhook, "discord-webhook", "", "Discord webhook URL")
	f.StringVar(&runOpts.HistoryFile, "history-file", "", "notification history path")
	f.BoolVar(&runOpts.ForceNotify, "force-notify", false, "notify every sale, ignoring history (implies --notify)")
	f.BoolVar(&runOpts.JSON, "json", false, "print the run result as JSON")
	rootCmd.AddCommand(runCmd)
}
