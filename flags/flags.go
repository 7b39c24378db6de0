package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

const EnvVarPrefix = "OP_STEPLOG"

const (
	DefaultConfigFile = "steplog.yaml"
	DefaultOutputDir  = "steplog_logs"
	DefaultTmpDir     = "steplog_logs/tmp"
	DefaultReportAddr = "0.0.0.0:8090"
)

var (
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   DefaultConfigFile,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to the steplog YAML config. A missing file leaves the defaults in place.",
	}
	ProjectName = &cli.StringFlag{
		Name:    "project-name",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROJECT_NAME"),
		Usage:   "Project name recorded in the run report",
	}
	Env = &cli.StringFlag{
		Name:    "env",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENV"),
		Usage:   "Environment the tests ran against (eg. 'stage')",
	}
	BaseURL = &cli.StringFlag{
		Name:    "base-url",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BASE_URL"),
		Usage:   "Base URL of the system under test",
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   DefaultOutputDir,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_DIR"),
		Usage:   "Directory for the combined report, step trees and attachments",
	}
	TmpDir = &cli.StringFlag{
		Name:    "tmp-dir",
		Value:   DefaultTmpDir,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TMP_DIR"),
		Usage:   "Directory holding the per-worker reports until they are merged",
	}
	AttachmentsDir = &cli.StringFlag{
		Name:    "attachments-dir",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ATTACHMENTS_DIR"),
		Usage:   "Directory for attachment files, defaults to <output-dir>/attachments",
	}
	XFailStatus = &cli.StringFlag{
		Name:    "xfail-status",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "XFAIL_STATUS"),
		Usage: fmt.Sprintf("Status of an expected failure that failed: %s, %s or %s",
			types.TestStatusPassed, types.TestStatusFailed, types.TestStatusSkipped),
	}
	LenientMerge = &cli.BoolFlag{
		Name:    "lenient-merge",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LENIENT_MERGE"),
		Usage:   "Skip unreadable worker reports with a warning instead of failing the merge",
	}
	KeepTmp = &cli.BoolFlag{
		Name:    "keep-tmp",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KEEP_TMP"),
		Usage:   "Keep the per-worker reports after merging",
	}
	HidePasswords = &cli.BoolFlag{
		Name:    "hide-passwords",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HIDE_PASSWORDS"),
		Usage:   "Mask password-like test parameters",
	}
	ReportAddr = &cli.StringFlag{
		Name:    "report-addr",
		Value:   DefaultReportAddr,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_ADDR"),
		Usage:   "Listen address of the report server",
	}
)

// Summary flags
var (
	ShowTests = &cli.BoolFlag{
		Name:    "show-tests",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_TESTS"),
		Usage:   "List every test below its module",
	}
	ShowErrors = &cli.BoolFlag{
		Name:    "show-errors",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_ERRORS"),
		Usage:   "Print a table of failed and broken tests",
	}
	FailOnFailures = &cli.BoolFlag{
		Name:    "fail-on-failures",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_ON_FAILURES"),
		Usage:   "Exit with code 1 when the report holds failed or broken tests",
	}
	SummaryFile = &cli.StringFlag{
		Name:    "summary-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUMMARY_FILE"),
		Usage:   "Also write the summary to this file",
	}
)

// Show flags
var (
	StepsID = &cli.StringFlag{
		Name:     "steps-id",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "STEPS_ID"),
		Usage:    "ID of the step tree to print (eg. 'steps_...')",
	}
	ShowInfo = &cli.BoolFlag{
		Name:    "show-info",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_INFO"),
		Usage:   "Print info entries below each step",
	}
)

var optionalFlags = []cli.Flag{
	ConfigFile,
	ProjectName,
	Env,
	BaseURL,
	OutputDir,
	TmpDir,
	AttachmentsDir,
	XFailStatus,
	LenientMerge,
	KeepTmp,
	HidePasswords,
	ReportAddr,
}

// SummaryFlags are the flags of the summary command
var SummaryFlags = []cli.Flag{ShowTests, ShowErrors, FailOnFailures, SummaryFile}

// ShowFlags are the flags of the show command
var ShowFlags = []cli.Flag{StepsID, ShowInfo}

// Flags are the global flags of the binary
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(Flags, optionalFlags...)
}
