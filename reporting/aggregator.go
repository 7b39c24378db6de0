package reporting

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-steplog/metrics"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// MergeError names the worker report that stopped a merge
type MergeError struct {
	File string
	Err  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("failed to merge report %s: %v", filepath.Base(e.File), e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// IsMergeError checks if an error is a MergeError
func IsMergeError(err error) bool {
	var mergeErr *MergeError
	return errors.As(err, &mergeErr)
}

type AggregatorConfig struct {
	Store *store.Store
	// Lenient skips unreadable worker reports instead of failing the merge
	Lenient bool
	// KeepTmp leaves worker reports in place after a successful merge
	KeepTmp bool
	Log     log.Logger
}

// Aggregator merges every worker report of a run into the combined report
type Aggregator struct {
	store   *store.Store
	merger  *Merger
	lenient bool
	keepTmp bool
	log     log.Logger
}

func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Store == nil {
		return nil, errors.New("aggregator needs a store")
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &Aggregator{
		store:   cfg.Store,
		merger:  NewMerger(logger),
		lenient: cfg.Lenient,
		keepTmp: cfg.KeepTmp,
		log:     logger,
	}, nil
}

// Run loads, merges and persists the combined report. Worker files are
// removed only after the combined report was written.
func (a *Aggregator) Run(ctx context.Context) (*types.RunReport, error) {
	start := time.Now()
	files, err := a.store.ReportFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		a.log.Warn("No worker reports found", "dir", a.store.ReportsDir())
	}

	loaded, errs, err := loadReports(ctx, files)
	if err != nil {
		return nil, err
	}
	reports := make([]*types.RunReport, 0, len(files))
	skipped := 0
	for i, file := range files {
		if errs[i] != nil {
			metrics.RecordErrorDetails("merge", errs[i])
			if !a.lenient {
				return nil, &MergeError{File: file, Err: errs[i]}
			}
			a.log.Warn("Skipping unreadable worker report", "file", file, "err", errs[i])
			skipped++
			continue
		}
		reports = append(reports, loaded[i])
	}

	combined := a.merger.Merge(reports...)
	path, err := a.store.SaveCombined(combined)
	if err != nil {
		return nil, fmt.Errorf("failed to save combined report: %w", err)
	}
	metrics.RecordMerge(len(reports), skipped, time.Since(start))
	a.log.Info("Merged worker reports", "reports", len(reports), "skipped", skipped,
		"passed", combined.Results.Passed, "failed", combined.Results.Failed,
		"broken", combined.Results.Broken, "path", path)

	if !a.keepTmp {
		if err := a.store.ClearTmp(); err != nil {
			a.log.Warn("Failed to clear temporary reports", "err", err)
		}
	}
	if err := a.store.ClearLocks(); err != nil {
		a.log.Warn("Failed to clear lock files", "err", err)
	}
	return combined, nil
}

// loadReports reads files concurrently. Per-file errors are returned by
// index, the returned error is only set when ctx is done.
func loadReports(ctx context.Context, files []string) ([]*types.RunReport, []error, error) {
	reports := make([]*types.RunReport, len(files))
	errs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i], errs[i] = store.LoadReport(file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return reports, errs, nil
}
