// Command moisson searches a portal and harvests articles as PDF +
// markdown artifact pairs, resuming interrupted batches from its mapping
// file.
//
// Usage:
//
//	moisson -search "golang 并发" -max-pages 3            # search only
//	moisson -search "golang 并发" -download               # search then download
//	moisson -batch urls.txt -out ./articles               # download a URL list
//	moisson -config moisson.yaml -search "..." -download  # with config file
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/archive"
	"github.com/hazyhaar/moisson/batch"
	"github.com/hazyhaar/moisson/capture"
	"github.com/hazyhaar/moisson/challenge"
	"github.com/hazyhaar/moisson/config"
	"github.com/hazyhaar/moisson/ledger"
	"github.com/hazyhaar/moisson/search"
	"github.com/hazyhaar/moisson/session"
	"github.com/hazyhaar/moisson/stealth"
)

func main() {
	configPath := flag.String("config", "", "path to moisson.yaml config file")
	query := flag.String("search", "", "search query")
	maxPages := flag.Int("max-pages", 0, "max search pages (0 = until exhausted)")
	download := flag.Bool("download", false, "download artifacts for search results")
	batchFile := flag.String("batch", "", "file with one URL per line to download")
	outDir := flag.String("out", "", "artifact output directory (overrides config)")
	headful := flag.Bool("headful", false, "show the browser window (needed for manual verification)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *query, *maxPages, *download, *batchFile, *outDir, *headful); err != nil {
		logger.Error("moisson: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, query string, maxPages int, download bool, batchFile, outDir string, headful bool) error {
	if query == "" && batchFile == "" {
		fmt.Fprintln(os.Stderr, "usage: moisson -search <query> [-download] | -batch <file>")
		os.Exit(1)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if outDir != "" {
		cfg.Capture.OutDir = outDir
		cfg.LedgerPath = ""
		cfg.ApplyDefaults()
	}
	if headful {
		f := false
		cfg.Browser.Headless = &f
	}
	cfg.Browser.Logger = logger
	cfg.Waiter.Logger = logger
	cfg.Search.Logger = logger
	cfg.Capture.Logger = logger
	cfg.Batch.Logger = logger

	// Assemble the engine.
	profiles := stealth.NewProvider(cfg.Stealth)
	detector := challenge.NewDetector(cfg.Detector)
	waiter := challenge.NewWaiter(detector, cfg.Waiter)
	paginator := search.NewPaginator(detector, waiter, cfg.Search)
	capturer := capture.New(detector, waiter, cfg.Capture)

	mgr := session.NewManager(profiles, cfg.Browser)
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	sess, err := mgr.Open(ctx, cfg.SessionKey())
	if err != nil {
		return err
	}

	var arc *archive.Store
	if cfg.ArchivePath != "" {
		arc, err = archive.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer arc.Close()
	}

	var results []search.Result
	if query != "" {
		raw, err := paginator.Search(ctx, sess, query, maxPages)
		if err != nil {
			return err
		}
		results = search.Dedupe(raw)
		logger.Info("moisson: search done", "query", query, "raw", len(raw), "unique", len(results))

		if arc != nil {
			if err := arc.SaveResults(ctx, query, results); err != nil {
				logger.Warn("moisson: archive results failed", "error", err)
			}
		}
		if !download {
			return printResults(results)
		}
	}

	if batchFile != "" {
		fromFile, err := readURLList(batchFile)
		if err != nil {
			return err
		}
		results = append(results, fromFile...)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}

	runner := batch.NewRunner(capturer, led, arc, cfg.Batch)
	started := time.Now()
	sum, err := runner.Run(ctx, sess, results)
	if arc != nil {
		rerr := arc.SaveRun(context.Background(), archive.Run{
			Query:     query,
			Succeeded: sum.Succeeded,
			Failed:    sum.Failed,
			Skipped:   sum.Skipped,
			StartedAt: started,
		})
		if rerr != nil {
			logger.Warn("moisson: archive run summary failed", "error", rerr)
		}
	}
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(sum)
}

func printResults(results []search.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// readURLList reads one URL per line; blank lines and #-comments are
// skipped.
func readURLList(path string) ([]search.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	defer f.Close()

	var out []search.Result
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, search.Result{URL: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return out, nil
}
