package steplog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-steplog/flags"
	"github.com/ethereum-optimism/infra/op-steplog/session"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// Integrations switches the listeners mirroring the narrative API
type Integrations struct {
	OTel bool `yaml:"otel"`
	Log  bool `yaml:"log"`
}

// Config holds the application configuration
type Config struct {
	ProjectName       string            `yaml:"project_name"`
	Env               string            `yaml:"env"`
	BaseURL           string            `yaml:"base_url"`
	Integrations      Integrations      `yaml:"integrations"`
	Links             map[string]string `yaml:"links"`
	TmpDir            string            `yaml:"tmp_dir"`
	OutputDir         string            `yaml:"output_dir"`
	AttachmentsDir    string            `yaml:"attachments_dir"`
	XFailStatus       types.TestStatus  `yaml:"xfail_status"`
	LenientMerge      bool              `yaml:"lenient_merge"`
	KeepTmp           bool              `yaml:"keep_tmp"`
	HidePasswords     bool              `yaml:"hide_passwords"`
	ScreenshotTimeout time.Duration     `yaml:"screenshot_timeout"`
	ReportAddr        string            `yaml:"report_addr"`

	// Extra keeps keys of the config file this version does not know
	Extra map[string]any `yaml:",inline"`

	Log log.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration used when no file and no flags
// are given
func DefaultConfig() *Config {
	return &Config{
		TmpDir:      flags.DefaultTmpDir,
		OutputDir:   flags.DefaultOutputDir,
		XFailStatus: types.TestStatusPassed,
		ReportAddr:  flags.DefaultReportAddr,
		Log:         log.Root(),
	}
}

// LoadConfigFile reads path over the defaults. A missing file is not an
// error.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// NewConfig creates a new Config from the config file named by the cli
// context, with flags taking precedence over file values
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	cfg, err := LoadConfigFile(ctx.String(flags.ConfigFile.Name))
	if err != nil {
		return nil, err
	}
	cfg.Log = log

	setString := func(f *cli.StringFlag, dst *string) {
		if ctx.IsSet(f.Name) || *dst == "" {
			if v := ctx.String(f.Name); v != "" {
				*dst = v
			}
		}
	}
	setBool := func(f *cli.BoolFlag, dst *bool) {
		if ctx.IsSet(f.Name) {
			*dst = ctx.Bool(f.Name)
		}
	}
	setString(flags.ProjectName, &cfg.ProjectName)
	setString(flags.Env, &cfg.Env)
	setString(flags.BaseURL, &cfg.BaseURL)
	setString(flags.TmpDir, &cfg.TmpDir)
	setString(flags.OutputDir, &cfg.OutputDir)
	setString(flags.AttachmentsDir, &cfg.AttachmentsDir)
	setString(flags.ReportAddr, &cfg.ReportAddr)
	if ctx.IsSet(flags.XFailStatus.Name) {
		cfg.XFailStatus = types.TestStatus(ctx.String(flags.XFailStatus.Name))
	}
	setBool(flags.LenientMerge, &cfg.LenientMerge)
	setBool(flags.KeepTmp, &cfg.KeepTmp)
	setBool(flags.HidePasswords, &cfg.HidePasswords)

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve validates the configuration and makes directories absolute
func (c *Config) Resolve() error {
	if c.Log == nil {
		c.Log = log.Root()
	}
	c.XFailStatus = types.TestStatus(strings.ToUpper(string(c.XFailStatus)))
	if c.XFailStatus == "" {
		c.XFailStatus = types.TestStatusPassed
	}
	if err := c.SessionConfig().Check(); err != nil {
		return err
	}
	if c.TmpDir == "" || c.OutputDir == "" {
		return errors.New("tmp and output directories are required")
	}
	if c.AttachmentsDir == "" {
		c.AttachmentsDir = filepath.Join(c.OutputDir, "attachments")
	}
	for _, dir := range []*string{&c.TmpDir, &c.OutputDir, &c.AttachmentsDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for '%s': %w", *dir, err)
		}
		*dir = abs
	}
	// the temp directory is removed after a merge
	for _, dir := range []string{c.OutputDir, c.AttachmentsDir} {
		if store.Contains(c.TmpDir, dir) {
			return fmt.Errorf("tmp dir %s must not contain %s", c.TmpDir, dir)
		}
	}
	return nil
}

// StoreDirs returns the directory layout for the store
func (c *Config) StoreDirs() store.Dirs {
	return store.Dirs{TmpDir: c.TmpDir, OutputDir: c.OutputDir, AttachmentsDir: c.AttachmentsDir}
}

// SessionConfig returns the recording settings of a session
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ProjectName:       c.ProjectName,
		Env:               c.Env,
		BaseURL:           c.BaseURL,
		Links:             c.Links,
		XFailStatus:       c.XFailStatus,
		HidePasswords:     c.HidePasswords,
		ScreenshotTimeout: c.ScreenshotTimeout,
	}
}
