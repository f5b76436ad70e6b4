package main

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/stretchr/testify/require"
)

func TestPrintDeadLetterTableIncludesTruncatedError(t *testing.T) {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		os.Stdout = oldStdout
	}()

	os.Stdout = w

	longErr := ""
	for range 10 {
		longErr += "marketplace returned HTTP 503 "
	}
	finished := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	jobs := []*model.Job{
		{
			ID:          "a2b9e5c0-0000-0000-0000-000000000001",
			Type:        model.JobTypeOrderSync,
			Marketplace: model.MarketplaceTrendyol,
			Status:      model.JobStatusDeadLettered,
			Attempts:    3,
			MaxAttempts: 3,
			LastError:   &longErr,
			FinishedAt:  &finished,
		},
	}
	err = printDeadLetterTable(jobs)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	os.Stdout = oldStdout

	output, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	outStr := string(output)
	require.Contains(t, outStr, "Dead-Lettered Jobs")
	require.Contains(t, outStr, "a2b9e5c0-0000-0000-0000-000000000001")
	require.Contains(t, outStr, "3/3")
	require.Contains(t, outStr, "2026-08-30T12:00:00Z")
	require.Contains(t, outStr, "...")
	require.NotContains(t, outStr, longErr)
	require.Contains(t, outStr, "Total: 1")
}

func TestRenderLastError(t *testing.T) {
	require.Equal(t, "-", renderLastError(nil))

	empty := ""
	require.Equal(t, "-", renderLastError(&empty))

	multiline := "rate limited\nretry later"
	require.Equal(t, "rate limited retry later", renderLastError(&multiline))
}

func TestDedupScanPattern(t *testing.T) {
	require.Equal(t, "webhook:dedup:*", dedupScanPattern(""))
	require.Equal(t, "webhook:dedup:trendyol:*", dedupScanPattern(" Trendyol "))
}
