package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	steplog "github.com/ethereum-optimism/infra/op-steplog"
	"github.com/ethereum-optimism/infra/op-steplog/exitcodes"
	"github.com/ethereum-optimism/infra/op-steplog/flags"
	"github.com/ethereum-optimism/infra/op-steplog/reporting"
	"github.com/ethereum-optimism/infra/op-steplog/service"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-steplog"
	app.Usage = "Step-level test logging and run reports"
	app.Description = "op-steplog merges per-worker test reports and prints or serves the combined report"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Commands = []*cli.Command{
		{
			Name:   "merge",
			Usage:  "Merge the worker reports into the combined report",
			Action: mergeAction,
		},
		{
			Name:   "summary",
			Usage:  "Print a table summary of the combined report",
			Flags:  cliapp.ProtectFlags(flags.SummaryFlags),
			Action: summaryAction,
		},
		{
			Name:   "show",
			Usage:  "Print one stored step tree",
			Flags:  cliapp.ProtectFlags(flags.ShowFlags),
			Action: showAction,
		},
		{
			Name:   "serve",
			Usage:  "Serve the combined report, step trees and attachments over HTTP",
			Action: cliapp.LifecycleCmd(serve),
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if steplog.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if steplog.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}
	return app
}

func setup(ctx *cli.Context) (*steplog.Config, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := steplog.NewConfig(ctx, logger)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, steplog.NewRuntimeError("setup", fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)
	return cfg, nil
}

func mergeAction(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	report, err := steplog.Merge(ctx.Context, cfg)
	if err != nil {
		return steplog.NewRuntimeError("merge", err)
	}
	cfg.Log.Info("Combined report written", "tests", report.Results.Total(),
		"status", reporting.OverallStatus(report.Results))
	return nil
}

func summaryAction(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	text, results, err := steplog.Summary(cfg, steplog.SummaryOptions{
		ShowTests:  ctx.Bool(flags.ShowTests.Name),
		ShowErrors: ctx.Bool(flags.ShowErrors.Name),
	})
	if err != nil {
		return steplog.NewRuntimeError("summary", err)
	}

	writers := []reporting.ReportWriter{reporting.NewStdoutWriter()}
	if path := ctx.String(flags.SummaryFile.Name); path != "" {
		writers = append(writers, reporting.NewFileWriter(path))
	}
	for _, w := range writers {
		if err := w.Write(text); err != nil {
			return steplog.NewRuntimeError("summary", fmt.Errorf("failed to write summary: %w", err))
		}
	}

	if ctx.Bool(flags.FailOnFailures.Name) {
		return steplog.CheckResults(results)
	}
	return nil
}

func showAction(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	text, err := steplog.ShowSteps(cfg, ctx.String(flags.StepsID.Name), ctx.Bool(flags.ShowInfo.Name))
	if err != nil {
		return steplog.NewRuntimeError("show", err)
	}
	return reporting.NewStdoutWriter().Write(text)
}

func serve(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	cfg, err := setup(ctx)
	if err != nil {
		return nil, err
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	svcCfg := service.DefaultConfig()
	svcCfg.MetricsEnabled = metricsCfg.Enabled
	svcCfg.MetricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	combined := store.New(cfg.StoreDirs(), cfg.Log).CombinedPath()
	svcCfg.Ready = func() error {
		_, err := os.Stat(combined)
		return err
	}
	svc := service.New(svcCfg, cfg.Log)
	svc.Start(ctx.Context)

	srv, err := steplog.NewServer(cfg)
	if err != nil {
		svc.Shutdown()
		return nil, steplog.NewRuntimeError("serve", fmt.Errorf("failed to create report server: %w", err))
	}
	return &lifecycle{Server: srv, svc: svc}, nil
}

// lifecycle stops the side servers together with the report server
type lifecycle struct {
	*steplog.Server
	svc *service.Service
}

func (l *lifecycle) Stop(ctx context.Context) error {
	defer l.svc.Shutdown()
	return l.Server.Stop(ctx)
}
