package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup keys are written by the webhook dispatcher as
// "webhook:dedup:<marketplace>:<topic>:<event_id>".
const dedupKeyPrefix = "webhook:dedup:"

type dedupListOptions struct {
	Marketplace string
	Limit       int
}

type dedupClearOptions struct {
	Marketplace string
	All         bool
	DryRun      bool
	Yes         bool
}

func runListDedupKeys(cmdCtx *commandContext, args []string) error {
	opts, err := parseDedupListFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	redisClient, err := connectRedisOnly(cmdCtx)
	if err != nil {
		return err
	}
	if redisClient == nil {
		if writeErr := writeln(os.Stderr, "Redis client is not available"); writeErr != nil {
			return fmt.Errorf("print redis availability: %w", writeErr)
		}
		return nil
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	pattern := dedupScanPattern(opts.Marketplace)
	cmdCtx.Logger.Info("scanning redis", "pattern", pattern)

	if headerErr := writef(os.Stdout, "\nWebhook Dedup Keys in Redis\n"); headerErr != nil {
		return fmt.Errorf("print dedup header: %w", headerErr)
	}

	total, err := writeDedupKeys(dedupScanInput{
		Ctx:     ctx,
		Client:  redisClient,
		Logger:  cmdCtx.Logger,
		Pattern: pattern,
		Limit:   opts.Limit,
	})
	if err != nil {
		return err
	}

	if total == 0 {
		if nonePrintErr := writeln(os.Stdout, "(no keys found)"); nonePrintErr != nil {
			return fmt.Errorf("print dedup none: %w", nonePrintErr)
		}
		return nil
	}

	if totalPrintErr := writef(os.Stdout, "\nTotal keys: %d\n", total); totalPrintErr != nil {
		return fmt.Errorf("print dedup total: %w", totalPrintErr)
	}
	return nil
}

type dedupScanInput struct {
	Ctx     context.Context
	Client  redis.UniversalClient
	Logger  *slog.Logger
	Pattern string
	Limit   int
}

func writeDedupKeys(input dedupScanInput) (int, error) {
	iter := input.Client.Scan(input.Ctx, 0, input.Pattern, 100).Iterator()

	total := 0
	for iter.Next(input.Ctx) {
		key := iter.Val()
		total++
		if input.Limit > 0 && total > input.Limit {
			continue
		}
		if err := printDedupKey(input, key); err != nil {
			return 0, err
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}

	if input.Limit > 0 && total > input.Limit {
		if err := writef(os.Stdout, "  ... %d more not shown\n", total-input.Limit); err != nil {
			return 0, fmt.Errorf("print dedup overflow notice: %w", err)
		}
	}
	return total, nil
}

func printDedupKey(input dedupScanInput, key string) error {
	ttl, ttlErr := input.Client.TTL(input.Ctx, key).Result()
	if ttlErr != nil {
		if input.Logger != nil {
			input.Logger.ErrorContext(input.Ctx, "failed to fetch TTL", "key", key, "error", ttlErr)
		}
		if printErr := writef(os.Stdout, "  %s (TTL: error: %v)\n", key, ttlErr); printErr != nil {
			return fmt.Errorf("print dedup key ttl error: %w", printErr)
		}
		return nil
	}

	if printErr := writef(os.Stdout, "  %s (TTL: %s)\n", key, renderTTL(ttl)); printErr != nil {
		return fmt.Errorf("print dedup key ttl: %w", printErr)
	}
	return nil
}

func runClearDedupKeys(cmdCtx *commandContext, args []string) error {
	opts, err := parseDedupClearFlags(args)
	if err != nil {
		return err
	}
	if confirmErr := confirmClearDedup(opts); confirmErr != nil {
		return confirmErr
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	redisClient, err := connectRedisOnly(cmdCtx)
	if err != nil {
		return err
	}
	if redisClient == nil {
		if writeErr := writeln(os.Stderr, "Redis client is not available"); writeErr != nil {
			return fmt.Errorf("print redis availability: %w", writeErr)
		}
		return nil
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	stats, err := deleteDedupKeys(&dedupDeleteRequest{
		Ctx:      ctx,
		Logger:   cmdCtx.Logger,
		Redis:    redisClient,
		Options:  opts,
		BatchCap: 1000,
	})
	if err != nil {
		return err
	}

	if stats.total == 0 {
		if writeErr := writeln(os.Stdout, "No webhook dedup keys found in Redis"); writeErr != nil {
			return fmt.Errorf("print dedup summary: %w", writeErr)
		}
		return nil
	}

	if opts.DryRun {
		if writeErr := writef(os.Stdout, "Dry-run: would delete %d/%d keys\n", stats.deleted, stats.total); writeErr != nil {
			return fmt.Errorf("print dedup dry run: %w", writeErr)
		}
		return nil
	}

	return printDedupClearSummary(stats)
}

func printDedupClearSummary(stats dedupDeleteStats) error {
	if err := writef(os.Stdout, "Processed %d dedup keys\n", stats.total); err != nil {
		return fmt.Errorf("print dedup processed: %w", err)
	}
	if err := writef(os.Stdout, "Deleted %d/%d keys\n", stats.deleted, stats.total); err != nil {
		return fmt.Errorf("print dedup deleted: %w", err)
	}
	if stats.failures == 0 {
		return nil
	}

	if err := writef(os.Stdout, "Failed batches: %d\n", stats.failures); err != nil {
		return fmt.Errorf("print dedup failures: %w", err)
	}
	return nil
}

type dedupDeleteRequest struct {
	Ctx      context.Context
	Logger   *slog.Logger
	Redis    redis.UniversalClient
	Options  dedupClearOptions
	BatchCap int
}

type dedupDeleteStats struct {
	total    int
	deleted  int64
	failures int
}

func deleteDedupKeys(req *dedupDeleteRequest) (dedupDeleteStats, error) {
	pattern := dedupScanPattern(req.Options.Marketplace)

	batchCap := req.BatchCap
	if batchCap <= 0 {
		batchCap = 1000
	}

	if req.Logger != nil {
		req.Logger.Info("scanning redis", "pattern", pattern, "dry_run", req.Options.DryRun)
	}

	stats := dedupDeleteStats{}
	iter := req.Redis.Scan(req.Ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, batchCap)

	for iter.Next(req.Ctx) {
		stats.total++
		batch = append(batch, iter.Val())

		if len(batch) == batchCap {
			flushDedupBatch(req, batch, &stats)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("redis scan: %w", err)
	}

	flushDedupBatch(req, batch, &stats)
	return stats, nil
}

func flushDedupBatch(req *dedupDeleteRequest, batch []string, stats *dedupDeleteStats) {
	if len(batch) == 0 {
		return
	}
	if req.Options.DryRun {
		stats.deleted += int64(len(batch))
		if req.Logger != nil {
			req.Logger.Info("dry-run skipping dedup delete", "count", len(batch))
		}
		return
	}
	n, delErr := req.Redis.Del(req.Ctx, batch...).Result()
	if delErr != nil {
		stats.failures++
		if req.Logger != nil {
			req.Logger.Error("failed to delete dedup keys", "count", len(batch), "error", delErr)
		}
		return
	}
	stats.deleted += n
}

func dedupScanPattern(marketplace string) string {
	mp := strings.ToLower(strings.TrimSpace(marketplace))
	if mp == "" {
		return dedupKeyPrefix + "*"
	}
	return dedupKeyPrefix + mp + ":*"
}

func renderTTL(d time.Duration) string {
	switch d {
	case -1 * time.Second:
		return "no expiry"
	case -2 * time.Second:
		return "key missing"
	default:
		return d.String()
	}
}

func confirmClearDedup(opts dedupClearOptions) error {
	if opts.Yes || opts.DryRun {
		return nil
	}

	scope := "all marketplaces"
	if opts.Marketplace != "" {
		scope = "marketplace " + opts.Marketplace
	}
	return confirmAction(dbResetConfirmOptions{
		target: scope,
	}, "clear webhook dedup keys")
}

func parseDedupListFlags(args []string) (dedupListOptions, error) {
	fs := flag.NewFlagSet("list-dedup-keys", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts dedupListOptions
	fs.StringVar(&opts.Marketplace, "marketplace", "", "Only show keys for one marketplace")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum keys to display (0 for unlimited)")

	if err := fs.Parse(args); err != nil {
		return dedupListOptions{}, err
	}

	if opts.Limit < 0 {
		return dedupListOptions{}, errors.New("--limit must not be negative")
	}

	return opts, nil
}

func parseDedupClearFlags(args []string) (dedupClearOptions, error) {
	fs := flag.NewFlagSet("clear-dedup-keys", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts dedupClearOptions
	fs.StringVar(&opts.Marketplace, "marketplace", "", "Only clear keys for one marketplace")
	fs.BoolVar(&opts.All, "all", false, "Clear dedup keys for all marketplaces")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print actions without executing")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return dedupClearOptions{}, err
	}

	if opts.Marketplace == "" && !opts.All {
		return dedupClearOptions{}, errors.New("--marketplace or --all is required")
	}

	return opts, nil
}
