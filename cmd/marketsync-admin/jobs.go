package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/meschain/marketsync/internal/data"
	"github.com/meschain/marketsync/internal/domain/model"
)

type deadLetterListOptions struct {
	Marketplace string
	JobType     string
	Limit       int
	Offset      int
	RawJSON     bool
}

type requeueOptions struct {
	JobID string
	Yes   bool
}

func runJobStats(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, 2*time.Minute, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
		stats, err := repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("fetch job stats: %w", err)
		}
		return printJobStats(stats)
	})
}

func printJobStats(stats *model.JobStats) error {
	if stats == nil {
		return errors.New("job stats are required")
	}

	if err := writef(os.Stdout, "\nJob Counts by Status\n"); err != nil {
		return fmt.Errorf("print stats header: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "Status\tCount"); err != nil {
		return fmt.Errorf("write stats header row: %w", err)
	}
	rows := []struct {
		label string
		count int
	}{
		{"Pending", stats.Pending},
		{"Running", stats.Running},
		{"Retrying", stats.Retrying},
		{"Succeeded", stats.Succeeded},
		{"Dead-Lettered", stats.DeadLettered},
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%d\n", row.label, row.count); err != nil {
			return fmt.Errorf("write stats row %q: %w", row.label, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush stats table: %w", err)
	}
	return nil
}

func runListDeadLetters(cmdCtx *commandContext, args []string) error {
	opts, err := parseDeadLetterListFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, 2*time.Minute, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})

		listOpts, buildErr := buildDeadLetterListOptions(opts)
		if buildErr != nil {
			return buildErr
		}

		jobs, listErr := repo.List(ctx, listOpts)
		if listErr != nil {
			return fmt.Errorf("list dead-lettered jobs: %w", listErr)
		}

		if opts.RawJSON {
			return printJobsJSON(jobs)
		}
		return printDeadLetterTable(jobs)
	})
}

func buildDeadLetterListOptions(opts deadLetterListOptions) (*model.JobListOptions, error) {
	status := model.JobStatusDeadLettered
	listOpts := &model.JobListOptions{
		Status: &status,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}

	if opts.Marketplace != "" {
		mp := model.Marketplace(strings.ToLower(opts.Marketplace))
		if !mp.Valid() {
			return nil, fmt.Errorf("invalid marketplace %q", opts.Marketplace)
		}
		listOpts.Marketplace = &mp
	}
	if opts.JobType != "" {
		jt := model.JobType(strings.ToLower(opts.JobType))
		if !jt.Valid() {
			return nil, fmt.Errorf("invalid job type %q", opts.JobType)
		}
		listOpts.Type = &jt
	}

	return listOpts, nil
}

func printJobsJSON(jobs []*model.Job) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jobs); err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	return nil
}

func printDeadLetterTable(jobs []*model.Job) error {
	if len(jobs) == 0 {
		if err := writeln(os.Stdout, "No dead-lettered jobs found"); err != nil {
			return fmt.Errorf("print empty notice: %w", err)
		}
		return nil
	}

	if err := writef(os.Stdout, "\nDead-Lettered Jobs\n"); err != nil {
		return fmt.Errorf("print table header: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tType\tMarketplace\tAttempts\tFinished\tLast Error"); err != nil {
		return fmt.Errorf("write table header row: %w", err)
	}
	for _, job := range jobs {
		if err := writef(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			job.ID,
			job.Type,
			job.Marketplace,
			job.Attempts,
			job.MaxAttempts,
			renderJobTime(job.FinishedAt),
			renderLastError(job.LastError),
		); err != nil {
			return fmt.Errorf("write job row %s: %w", job.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}

	if err := writef(os.Stdout, "\nTotal: %d\n", len(jobs)); err != nil {
		return fmt.Errorf("print job total: %w", err)
	}
	return nil
}

const lastErrorDisplayLimit = 80

func renderLastError(lastError *string) string {
	if lastError == nil || *lastError == "" {
		return "-"
	}
	msg := strings.ReplaceAll(*lastError, "\n", " ")
	if len(msg) > lastErrorDisplayLimit {
		return msg[:lastErrorDisplayLimit] + "..."
	}
	return msg
}

func renderJobTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func runRequeueDeadLetter(cmdCtx *commandContext, args []string) error {
	opts, err := parseRequeueFlags(args)
	if err != nil {
		return err
	}

	if !opts.Yes {
		confirmOpts := dbResetConfirmOptions{
			target: fmt.Sprintf("job %s", opts.JobID),
		}
		if confirmErr := confirmAction(confirmOpts, "requeue dead-lettered job"); confirmErr != nil {
			return confirmErr
		}
	}

	return withDatabase(cmdCtx, 2*time.Minute, func(ctx context.Context, db *sql.DB) error {
		requeued, requeueErr := requeueDeadLetteredJob(ctx, db, opts.JobID)
		if requeueErr != nil {
			return requeueErr
		}
		if !requeued {
			return fmt.Errorf("job %s is not dead-lettered or does not exist", opts.JobID)
		}

		cmdCtx.Logger.Info("job requeued", "job_id", opts.JobID)
		return nil
	})
}

// requeueDeadLetteredJob resets a dead-lettered job for a fresh attempt
// cycle. Attempts are zeroed so the retry budget starts over.
func requeueDeadLetteredJob(ctx context.Context, db *sql.DB, jobID string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    attempts = 0,
		    last_error = NULL,
		    next_run_at = now(),
		    claimed_by = NULL,
		    lease_expires_at = NULL,
		    started_at = NULL,
		    finished_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'dead_lettered'
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func parseDeadLetterListFlags(args []string) (deadLetterListOptions, error) {
	fs := flag.NewFlagSet("list-dead-letters", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts deadLetterListOptions
	fs.StringVar(&opts.Marketplace, "marketplace", "", "Filter by marketplace")
	fs.StringVar(&opts.JobType, "type", "", "Filter by job type")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum rows to display")
	fs.IntVar(&opts.Offset, "offset", 0, "Offset for query results")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print jobs as JSON")

	if err := fs.Parse(args); err != nil {
		return deadLetterListOptions{}, err
	}

	if opts.Limit < 0 {
		return deadLetterListOptions{}, errors.New("--limit must not be negative")
	}

	return opts, nil
}

func parseRequeueFlags(args []string) (requeueOptions, error) {
	fs := flag.NewFlagSet("requeue-dead-letter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts requeueOptions
	fs.StringVar(&opts.JobID, "job-id", "", "Dead-lettered job ID to requeue (required)")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return requeueOptions{}, err
	}

	opts.JobID = strings.TrimSpace(opts.JobID)
	if opts.JobID == "" {
		return requeueOptions{}, errors.New("--job-id is required")
	}

	return opts, nil
}
