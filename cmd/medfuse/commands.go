package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/medfuse"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/indexer"
	"github.com/poiesic/medfuse/ingestion"
	"github.com/poiesic/medfuse/search"
	"github.com/poiesic/medfuse/source"
	"github.com/urfave/cli/v2"
)

// openSystem loads the config and opens the System. The returned context
// is cancelled on SIGINT or SIGTERM.
func openSystem(c *cli.Context, progress io.Writer) (context.Context, *medfuse.System, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	if !c.IsSet("log-level") {
		level, _ := parseLevel(cfg.LogLevel)
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	sys, err := medfuse.Open(ctx, cfg, medfuse.WithProgress(progress))
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := sys.Close(); err != nil {
			slog.Error("error closing medfuse", "err", err)
		}
		stop()
	}
	return ctx, sys, cleanup, nil
}

func openSource(c *cli.Context) (source.Source, error) {
	src, err := source.Open(c.String("input"), source.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return src, nil
}

func indexCommand(c *cli.Context) error {
	src, err := openSource(c)
	if err != nil {
		return err
	}
	ctx, sys, cleanup, err := openSystem(c, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := sys.Config()
	fmt.Fprintf(os.Stderr, "Input: %s\n", c.String("input"))
	fmt.Fprintf(os.Stderr, "Checkpoints: %s\n", cfg.CheckpointPath())
	fmt.Fprintf(os.Stderr, "Error log: %s\n", cfg.ErrorLogPath())
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.Embedding.Model)
	fmt.Fprintln(os.Stderr)

	summary, err := sys.Index(ctx, src, c.Bool("resume"))
	return reportSummary(c.App.Writer, summary, err, cfg.ErrorLogPath())
}

func syncCommand(c *cli.Context) error {
	src, err := openSource(c)
	if err != nil {
		return err
	}
	ctx, sys, cleanup, err := openSystem(c, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := sys.Sync(ctx, src)
	return reportSummary(c.App.Writer, summary, err, sys.Config().ErrorLogPath())
}

func reportSummary(w io.Writer, summary *indexer.Summary, err error, errorLog string) error {
	if summary != nil {
		fmt.Fprintln(w, summary.String())
		if summary.Failed > 0 {
			fmt.Fprintf(w, "%d item(s) failed; see %s\n", summary.Failed, errorLog)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return cli.Exit("interrupted; rerun with --resume to continue", 130)
		}
		return fmt.Errorf("indexing failed: %w", err)
	}
	return nil
}

func watchCommand(c *cli.Context) error {
	src, err := openSource(c)
	if err != nil {
		return err
	}
	ctx, sys, cleanup, err := openSystem(c, io.Discard)
	if err != nil {
		return err
	}
	defer cleanup()

	out := c.App.Writer
	pipeline, err := sys.NewPipeline(src, ingestion.WithOnComplete(func(summary *indexer.Summary, err error) {
		if summary != nil && summary.Total > 0 {
			fmt.Fprintln(out, summary.String())
		}
	}))
	if err != nil {
		return err
	}
	defer pipeline.Release()

	watcher, err := ingestion.NewWatcher(c.String("input"), pipeline,
		ingestion.WithDebounce(c.Duration("debounce")),
		ingestion.WithWatcherLogger(slog.Default()))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", c.String("input"))
	return watcher.Run(ctx)
}

func queryCommand(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return fmt.Errorf("query text is required")
	}
	ctx, sys, cleanup, err := openSystem(c, io.Discard)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := sys.Query(ctx, &search.Query{
		Text:                text,
		TopK:                c.Int("top-k"),
		PatientID:           c.String("patient"),
		DocumentType:        core.ItemType(strings.ToLower(c.String("type"))),
		SimilarityThreshold: float32(c.Float64("threshold")),
	})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(c.App.Writer, resp)
	return nil
}

func printResponse(w io.Writer, resp *search.Response) {
	if resp.Degraded {
		stages := make([]string, 0, len(resp.Failures))
		for stage := range resp.Failures {
			stages = append(stages, stage)
		}
		sort.Strings(stages)
		fmt.Fprintf(w, "warning: degraded results (failed: %s)\n", strings.Join(stages, ", "))
	}
	if len(resp.ExpandedTerms) > 0 {
		fmt.Fprintf(w, "expanded: %s\n", strings.Join(resp.ExpandedTerms, ", "))
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range resp.Results {
		patient, kind := "", ""
		if r.Item != nil {
			patient, kind = r.Item.PatientID, string(r.Item.ItemType)
		}
		fmt.Fprintf(w, "%2d. %s  score=%.4f  patient=%s  type=%s\n", i+1, r.ItemID, r.Score, patient, kind)
		for _, m := range search.Modalities {
			if ms, ok := r.Modalities[m]; ok {
				fmt.Fprintf(w, "      %-7s rank=%d raw=%.4f\n", m, ms.Rank, ms.Raw)
			}
		}
		for _, h := range r.Highlights {
			fmt.Fprintf(w, "      > %s\n", h)
		}
	}
}

func statusCommand(c *cli.Context) error {
	ctx, sys, cleanup, err := openSystem(c, io.Discard)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := sys.Status(ctx)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Embedding model: %s\n", st.EmbeddingModel)
	fmt.Fprintf(w, "Vector backend:  %s\n", st.VectorBackend)
	fmt.Fprintf(w, "Graph backend:   %s\n", st.GraphBackend)
	for _, status := range []core.CheckpointStatus{core.StatusPending, core.StatusProcessing, core.StatusCompleted, core.StatusFailed} {
		fmt.Fprintf(w, "%-16s %d\n", string(status)+":", st.Checkpoints[status])
	}
	fmt.Fprintf(w, "Retryable:       %d\n", st.Pending)
	fmt.Fprintf(w, "Sync watermark:  %s\n", formatTime(st.Watermark))
	fmt.Fprintf(w, "Newest document: %s\n", formatTime(st.LatestModified))

	entries, err := indexer.ReadErrorLog(sys.Config().ErrorLogPath())
	if err != nil {
		return fmt.Errorf("reading error log: %w", err)
	}
	fmt.Fprintf(w, "Logged errors:   %d\n", len(entries))
	n := c.Int("errors")
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[len(entries)-n:] {
		fmt.Fprintf(w, "  %s %s: %s\n", e.Timestamp.Format(time.RFC3339), e.ItemID, e.Message)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func resetCommand(c *cli.Context) error {
	ctx, sys, cleanup, err := openSystem(c, io.Discard)
	if err != nil {
		return err
	}
	defer cleanup()

	ids := c.Args().Slice()
	if err := sys.Reset(ctx, ids...); err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(c.App.Writer, "reset all checkpoints and the sync watermark")
	} else {
		fmt.Fprintf(c.App.Writer, "reset %d item(s)\n", len(ids))
	}
	return nil
}

func configCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Embedding.APIKey != "" {
		cfg.Embedding.APIKey = "********"
	}
	return cfg.Write(c.App.Writer)
}
