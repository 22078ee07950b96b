package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// execute runs the root command with args after restoring every flag to its
// default, and returns the combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testEnv is a configuration file whose stores live in a temporary directory.
type testEnv struct {
	dir        string
	configPath string
	countersDB string
	usageDB    string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "turnstile.yaml"),
		countersDB: filepath.Join(dir, "data", "counters.db"),
		usageDB:    filepath.Join(dir, "data", "usage.db"),
	}

	content := fmt.Sprintf(`
limits:
  tiers:
    starter:
      limits:
        api_call: 2000
  tenants:
    - id: acme
      name: Acme Corp
      tier: starter
  api_keys:
    - id: key-1
      tenant_id: acme
      per_minute: 5
  storage:
    backend: sqlite
    sqlite:
      path: %q

usage:
  storage:
    backend: sqlite
    sqlite:
      path: %q
  retention:
    days: 90
    archive_path: %q
%s`, env.countersDB, env.usageDB, filepath.Join(dir, "archives"), extra)

	if err := os.WriteFile(env.configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return env
}
