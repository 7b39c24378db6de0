package steplog

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/infra/op-steplog/reporting"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// Merge combines every worker report in the temp directory into the
// combined report
func Merge(ctx context.Context, cfg *Config) (*types.RunReport, error) {
	agg, err := reporting.NewAggregator(reporting.AggregatorConfig{
		Store:   store.New(cfg.StoreDirs(), cfg.Log),
		Lenient: cfg.LenientMerge,
		KeepTmp: cfg.KeepTmp,
		Log:     cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	return agg.Run(ctx)
}

// SummaryOptions selects what Summary prints
type SummaryOptions struct {
	ShowTests  bool
	ShowErrors bool
}

// Summary renders the combined report as tables and returns the run
// counters with it
func Summary(cfg *Config, opts SummaryOptions) (string, types.Counters, error) {
	report, err := store.New(cfg.StoreDirs(), cfg.Log).LoadCombined()
	if err != nil {
		return "", types.Counters{}, fmt.Errorf("failed to load combined report: %w", err)
	}
	text, err := reporting.NewSummaryFormatter(reporting.SummaryTitle(report), opts.ShowTests, opts.ShowErrors).Format(report)
	if err != nil {
		return "", types.Counters{}, err
	}
	return text, report.Results, nil
}

// ShowSteps renders one stored step tree
func ShowSteps(cfg *Config, id string, showInfo bool) (string, error) {
	tree, err := store.New(cfg.StoreDirs(), cfg.Log).LoadSteps(id)
	if err != nil {
		return "", fmt.Errorf("failed to load step tree %s: %w", id, err)
	}
	return reporting.NewStepListFormatter(showInfo).Format(tree)
}
