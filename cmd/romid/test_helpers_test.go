package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"romid/internal/testsupport"
)

const snesHeader = "Nintendo - Super Nintendo Entertainment System"

type cliTestEnv struct {
	configPath string
	sourceDir  string
	inputDir   string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	sources := t.TempDir()
	opts = append([]testsupport.ConfigOption{testsupport.WithSources(filepath.Join(sources, "*.dat"))}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Logging.Level = "error"

	return &cliTestEnv{
		configPath: testsupport.WriteConfigFile(t, cfg),
		sourceDir:  sources,
		inputDir:   t.TempDir(),
	}
}

func (env *cliTestEnv) writeDAT(t *testing.T, name, header string, roms ...testsupport.ROM) string {
	t.Helper()
	return testsupport.WriteBytes(t, filepath.Join(env.sourceDir, name), []byte(testsupport.LogiqxDAT(header, roms...)))
}

func (env *cliTestEnv) writeInput(t *testing.T, name string, data []byte) string {
	t.Helper()
	return testsupport.WriteBytes(t, filepath.Join(env.inputDir, name), data)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
