package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/barrel/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"serve"}, {"match"}, {"cron", "next"}, {"init"}} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "barrel.yaml", configFlag.DefValue)
}

func TestMatchCommand(t *testing.T) {
	msg := `{"order":{"id":7,"items":[{"sku":"a"},{"sku":"b"}]}}`
	tests := map[string]struct {
		pattern string
		want    string
		wantErr error
	}{
		"path":          {pattern: "$.order.id", want: "7\n"},
		"wildcard path": {pattern: "$.order.items[*].sku", want: "\"a\"\n\"b\"\n"},
		"shape":         {pattern: `{"sku":"b"}`, want: "{\"sku\":\"b\"}\n"},
		"literal":       {pattern: "order", want: "{\"id\":7,\"items\":[{\"sku\":\"a\"},{\"sku\":\"b\"}]}\n"},
		"no match":      {pattern: "$.missing", wantErr: ErrNoMatch},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, msg, "match", "--pattern", tc.pattern)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestMatchCommandFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"signup","user":{"id":1}}`), 0o600))

	out, err := execute(t, "", "match", "-p", `{"kind":"signup"}`, "-m", path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"signup"}`, strings.TrimSpace(out))

	_, err = execute(t, "not json", "match", "-p", "$.a")
	assert.Error(t, err)
}

func TestCronNextCommand(t *testing.T) {
	out, err := execute(t, "", "cron", "next", "0 30 9 * * MON-FRI", "-n", "2", "--from", "2026-03-06T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09T09:30:00Z\n2026-03-10T09:30:00Z\n", out)

	_, err = execute(t, "", "cron", "next", "@every 1m")
	assert.Error(t, err)

	_, err = execute(t, "", "cron", "next", "* * * * *", "--from", "yesterday")
	assert.ErrorContains(t, err, "from")
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "etc")

	out, err := execute(t, "", "init", dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "barrel.yaml")
	assert.Equal(t, "wrote "+path+"\n", out)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Sample, string(b))

	_, err = execute(t, "", "init", dir)
	assert.ErrorContains(t, err, "exists")

	_, err = execute(t, "", "init", dir, "--force")
	assert.NoError(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, loadEnvFile(""))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BARREL_CLI_TEST=42\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("BARREL_CLI_TEST") })
	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "42", os.Getenv("BARREL_CLI_TEST"))
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "barrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`log:
  level: error
scheduler:
  mode: polled
schedules:
  - pattern: heartbeat
    cron: "*/5 * * * * *"
`), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := Serve(ctx, RootOptions{Config: path, EnvFile: filepath.Join(dir, ".env")})
	assert.NoError(t, err)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "barrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  mode: sometimes\n"), 0o600))

	err := Serve(context.Background(), RootOptions{Config: path})
	assert.ErrorContains(t, err, "invalid config")

	err = Serve(context.Background(), RootOptions{Config: filepath.Join(dir, "missing.yaml")})
	assert.ErrorContains(t, err, "load config")
}
