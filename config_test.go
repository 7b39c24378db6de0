package steplog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steplog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
project_name: shop
env: stage
base_url: https://shop.example.com
integrations:
  otel: true
links:
  board: https://jira/board
xfail_status: failed
screenshot_timeout: 3s
tmp_dir: /var/tmp/steplog
qase_project: SHOP
retries: 2
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.ProjectName)
	assert.Equal(t, "stage", cfg.Env)
	assert.Equal(t, "https://shop.example.com", cfg.BaseURL)
	assert.True(t, cfg.Integrations.OTel)
	assert.False(t, cfg.Integrations.Log)
	assert.Equal(t, map[string]string{"board": "https://jira/board"}, cfg.Links)
	assert.Equal(t, 3*time.Second, cfg.ScreenshotTimeout)
	assert.Equal(t, "/var/tmp/steplog", cfg.TmpDir)
	assert.Equal(t, map[string]any{"qase_project": "SHOP", "retries": 2}, cfg.Extra)

	cfg.Log = log.NewLogger(log.DiscardHandler())
	require.NoError(t, cfg.Resolve())
	assert.Equal(t, types.TestStatusFailed, cfg.XFailStatus)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "attachments"), cfg.AttachmentsDir)
	assert.True(t, filepath.IsAbs(cfg.OutputDir))
}

func TestLoadConfigFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().OutputDir, cfg.OutputDir)
	assert.Equal(t, types.TestStatusPassed, cfg.XFailStatus)
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	_, err := LoadConfigFile(writeConfig(t, "project_name: [unclosed"))
	require.Error(t, err)
}

func TestConfig_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "lower case xfail", mutate: func(c *Config) { c.XFailStatus = "skipped" }},
		{name: "bad xfail", mutate: func(c *Config) { c.XFailStatus = "BROKEN" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.ScreenshotTimeout = -time.Second }, wantErr: true},
		{name: "no output dir", mutate: func(c *Config) { c.OutputDir = "" }, wantErr: true},
		{name: "tmp is output", mutate: func(c *Config) { c.TmpDir = c.OutputDir }, wantErr: true},
		{name: "tmp contains output", mutate: func(c *Config) { c.TmpDir = "." }, wantErr: true},
		{name: "tmp contains attachments", mutate: func(c *Config) {
			c.TmpDir = "/var/steplog"
			c.AttachmentsDir = "/var/steplog/files"
		}, wantErr: true},
		{name: "tmp inside output", mutate: func(c *Config) { c.TmpDir = filepath.Join(c.OutputDir, "tmp") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Resolve()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, cfg.XFailStatus.IsValid())
		})
	}
}

func TestConfig_SessionConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProjectName = "shop"
	cfg.HidePasswords = true
	cfg.Links = map[string]string{"ci": "https://ci"}
	sc := cfg.SessionConfig()
	assert.Equal(t, "shop", sc.ProjectName)
	assert.True(t, sc.HidePasswords)
	assert.Equal(t, cfg.Links, sc.Links)
}

func TestErrors(t *testing.T) {
	rt := NewRuntimeError("merge", os.ErrNotExist)
	assert.True(t, IsRuntimeError(rt))
	assert.ErrorIs(t, rt, os.ErrNotExist)
	assert.Equal(t, "runtime error during merge: file does not exist", rt.Error())
	assert.False(t, IsRuntimeError(nil))
	assert.False(t, IsTestFailureError(rt))
}

func TestCheckResults(t *testing.T) {
	tests := []struct {
		name    string
		results types.Counters
		status  types.TestStatus
	}{
		{name: "all passed", results: types.Counters{Passed: 3}},
		{name: "skipped only", results: types.Counters{Skipped: 1}},
		{name: "empty run", results: types.Counters{}},
		{name: "failed", results: types.Counters{Passed: 2, Failed: 1}, status: types.TestStatusFailed},
		{name: "broken wins", results: types.Counters{Failed: 1, Broken: 1}, status: types.TestStatusBroken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckResults(tt.results)
			if tt.status == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, IsTestFailureError(err))
			var tfe *TestFailureError
			require.ErrorAs(t, err, &tfe)
			assert.Equal(t, tt.status, tfe.Status)
			assert.Equal(t, tt.results, tfe.Results)
		})
	}
	assert.Equal(t, "test failure: run FAILED with 1 failed and 0 broken of 3 tests",
		CheckResults(types.Counters{Passed: 2, Failed: 1}).Error())
}
