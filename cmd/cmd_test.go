package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/version"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const validTemplate = `name: demo
initial_file: main.ts
tree:
  - name: main.ts
    content: console.log(1)
  - name: src
    directory: true
    children:
      - name: util.ts
        content: export {}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadWorkspaceAddsManifest(t *testing.T) {
	ws, err := loadWorkspace("")
	require.NoError(t, err)
	assert.Equal(t, "playground", ws.Name())

	manifest, err := ws.Resolve(workspace.ManifestName)
	require.NoError(t, err)
	assert.Contains(t, manifest.Content(), "typescript")
}

func TestLoadWorkspaceMissingFile(t *testing.T) {
	_, err := loadWorkspace(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestWriteTemplateRoundTrips(t *testing.T) {
	ws, err := loadWorkspace(writeFile(t, "ws.yml", validTemplate))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeTemplate(&out, ws, "yaml"))

	again, err := workspace.ParseTemplate(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "demo", again.Name())
	_, err = again.Resolve("src/util.ts")
	assert.NoError(t, err)

	out.Reset()
	assert.Error(t, writeTemplate(&out, ws, "toml"))
}

func TestValidateTemplates(t *testing.T) {
	good := writeFile(t, "good.yml", validTemplate)
	bad := writeFile(t, "bad.yml", "name: bad\ntree:\n  - name: a/b.ts\n")

	tests := []struct {
		name    string
		paths   []string
		wantErr bool
		want    []string
	}{
		{name: "valid", paths: []string{good}, want: []string{`workspace "demo", 2 files`}},
		{name: "invalid", paths: []string{bad}, wantErr: true, want: []string{"✗ " + bad}},
		{name: "mixed", paths: []string{good, bad}, wantErr: true, want: []string{"✓ " + good, "✗ " + bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := validateTemplates(&out, tt.paths)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}

func TestWriteVersion(t *testing.T) {
	info := version.Info{Version: "v1.0.0", Commit: "abcdef0123", GoVersion: "go1.24.4", Platform: "linux/amd64"}

	var out bytes.Buffer
	require.NoError(t, writeVersion(&out, info, "text", true))
	assert.Equal(t, "v1.0.0 (abcdef0)\n", out.String())

	out.Reset()
	require.NoError(t, writeVersion(&out, info, "json", false))
	var decoded version.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, info.Commit, decoded.Commit)

	assert.Error(t, writeVersion(&out, info, "xml", false))
}

func TestWriteConfig(t *testing.T) {
	cfg := config.Default()

	var out bytes.Buffer
	require.NoError(t, writeConfig(&out, cfg, "yaml"))
	var decoded config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, cfg.Server.Port, decoded.Server.Port)
	assert.Equal(t, cfg.Provision.StoreDir, decoded.Provision.StoreDir)

	assert.Error(t, writeConfig(&out, cfg, "ini"))
}
