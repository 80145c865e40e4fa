package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (map[string]interface{}, error) {
	t.Helper()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		return nil, err
	}
	var rendered map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &rendered), out.String())
	return rendered, nil
}

func TestConfigRender(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "countly.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
app_key: from-file
url: https://file.example.com
debug: true
ignore_bots: false
`), 0o600))

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, got map[string]interface{})
	}{
		{
			name: "flags only",
			args: []string{"--app-key", "abc", "--url", "https://countly.example.com"},
			check: func(t *testing.T, got map[string]interface{}) {
				assert.Equal(t, "abc", got["app_key"])
				assert.Equal(t, "https://countly.example.com", got["url"])
				assert.NotContains(t, got, "debug")
				assert.NotContains(t, got, "ignore_bots")
			},
		},
		{
			name: "file values",
			args: []string{"--file", file},
			check: func(t *testing.T, got map[string]interface{}) {
				assert.Equal(t, "from-file", got["app_key"])
				assert.Equal(t, true, got["debug"])
				assert.Equal(t, false, got["ignore_bots"])
			},
		},
		{
			name: "flags override file",
			args: []string{"--file", file, "--app-key", "override", "--debug=false", "--device-id", "dev-1"},
			check: func(t *testing.T, got map[string]interface{}) {
				assert.Equal(t, "override", got["app_key"])
				assert.Equal(t, "https://file.example.com", got["url"])
				assert.NotContains(t, got, "debug")
				assert.Equal(t, "dev-1", got["device_id"])
			},
		},
		{
			name: "durations in engine units",
			args: []string{"--app-key", "abc", "--url", "https://c.example.com", "--interval", "1500ms", "--require-consent", "--namespace", "shop"},
			check: func(t *testing.T, got map[string]interface{}) {
				assert.Equal(t, float64(1500), got["interval"])
				assert.Equal(t, true, got["require_consent"])
				assert.Equal(t, "shop", got["namespace"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runCmd(t, append([]string{"config", "render"}, tt.args...)...)
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestConfigRender_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing url", []string{"--app-key", "abc"}},
		{"missing file", []string{"--file", filepath.Join(t.TempDir(), "nope.yaml")}},
		{"unexpected argument", []string{"--app-key", "abc", "--url", "u", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, append([]string{"config", "render"}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

func TestRootFlagValidation(t *testing.T) {
	_, err := runCmd(t, "--output", "yaml", "config", "render", "--app-key", "a", "--url", "u")
	assert.ErrorContains(t, err, "invalid --output")

	_, err = runCmd(t, "--log-level", "loud", "config", "render", "--app-key", "a", "--url", "u")
	assert.ErrorContains(t, err, "invalid --log-level")
}

func TestDLQPurgeRequiresConfirmation(t *testing.T) {
	_, err := runCmd(t, "dlq", "purge")
	assert.ErrorContains(t, err, "--yes")
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name: "json values",
			args: []string{"limit=10", "enabled=true", `colors=["red","blue"]`, `obj={"a":1}`},
			want: map[string]interface{}{
				"limit":   float64(10),
				"enabled": true,
				"colors":  []interface{}{"red", "blue"},
				"obj":     map[string]interface{}{"a": float64(1)},
			},
		},
		{
			name: "plain strings",
			args: []string{"banner=hello world", "empty="},
			want: map[string]interface{}{"banner": "hello world", "empty": ""},
		},
		{
			name: "value containing equals",
			args: []string{"expr=a=b"},
			want: map[string]interface{}{"expr": "a=b"},
		},
		{name: "missing equals", args: []string{"banner"}, wantErr: true},
		{name: "empty key", args: []string{"=1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
