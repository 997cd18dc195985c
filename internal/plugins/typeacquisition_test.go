package plugins

import (
	"testing"
	"time"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTypeAcquisition() *TypeAcquisition {
	return NewTypeAcquisition(config.TypeAcquisitionConfig{
		Exclude:  config.DefaultTypeAcquisitionExclude,
		MaxDepth: 4,
		Timeout:  time.Second,
	}, logging.NewNop())
}

func libPaths(libs []editor.ExtraLib) []string {
	out := make([]string, 0, len(libs))
	for _, lib := range libs {
		out = append(out, lib.Path)
	}
	return out
}

func TestDependencies(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     []string
		wantErr  bool
	}{
		{
			name:     "excludes editor provided packages",
			manifest: `{"dependencies":{"typescript":"^5","effect":"^3","tsc-watch":"^6","@effect/platform":"^0.1"}}`,
			want:     []string{"@effect/platform", "effect"},
		},
		{
			name:     "no dependencies",
			manifest: `{"name":"w"}`,
			want:     nil,
		},
		{
			name:     "invalid json",
			manifest: `{"dependencies":`,
			wantErr:  true,
		},
	}

	ta := newTypeAcquisition()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ta.Dependencies([]byte(tt.manifest))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeAcquisitionRegistersDeclarations(t *testing.T) {
	h, gw := newHost(t,
		workspace.NewFile("package.json", `{"dependencies":{"effect":"^3","typescript":"^5"}}`),
		workspace.NewFile("main.ts", ""),
	)
	write(t, gw, "/W/node_modules/effect/package.json", `{"name":"effect","types":"dist/index.d.ts"}`)
	write(t, gw, "/W/node_modules/effect/dist/index.d.ts", "export declare const pipe: unknown")
	write(t, gw, "/W/node_modules/effect/dist/index.js", "export const pipe = 1")
	write(t, gw, "/W/node_modules/effect/dist/data/Option.d.ts", "export type Option<A> = A")
	write(t, gw, "/W/node_modules/typescript/package.json", `{"name":"typescript"}`)
	write(t, gw, "/W/node_modules/typescript/lib/lib.d.ts", "")

	runPlugin(t, newTypeAcquisition(), h)

	want := []string{
		"file:///node_modules/effect/dist/data/Option.d.ts",
		"file:///node_modules/effect/dist/index.d.ts",
		"file:///node_modules/effect/package.json",
		"file:///package.json",
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, libPaths(h.Editor().ExtraLibs()))
	}, 2*time.Second, 10*time.Millisecond)

	// Installing a package rewrites the manifest.
	write(t, gw, "/W/node_modules/zod/package.json", `{"name":"zod"}`)
	write(t, gw, "/W/node_modules/zod/index.d.ts", "export declare const z: unknown")
	write(t, gw, "/W/package.json", `{"dependencies":{"effect":"^3","zod":"^3"}}`)

	want = []string{
		"file:///node_modules/effect/dist/data/Option.d.ts",
		"file:///node_modules/effect/dist/index.d.ts",
		"file:///node_modules/effect/package.json",
		"file:///node_modules/zod/index.d.ts",
		"file:///node_modules/zod/package.json",
		"file:///package.json",
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, libPaths(h.Editor().ExtraLibs()))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTypeAcquisitionMissingPackageIsReported(t *testing.T) {
	h, _ := newHost(t, workspace.NewFile("package.json", `{"dependencies":{"ghost":"^1"}}`))

	err := newTypeAcquisition().acquire(t.Context(), h, []byte(`{"dependencies":{"ghost":"^1"}}`))
	require.Error(t, err)
	assert.Equal(t, []string{"file:///package.json"}, libPaths(h.Editor().ExtraLibs()))
}

func TestTypeAcquisitionWithoutManifestIsNoop(t *testing.T) {
	h, _ := newHost(t, workspace.NewFile("main.ts", ""))

	select {
	case err := <-runPlugin(t, newTypeAcquisition(), h):
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("plugin kept running without package.json")
	}
	assert.Empty(t, h.Editor().ExtraLibs())
}

func TestTypeAcquisitionRespectsMaxDepth(t *testing.T) {
	h, gw := newHost(t, workspace.NewFile("package.json", `{"dependencies":{"deep":"^1"}}`))
	write(t, gw, "/W/node_modules/deep/package.json", `{}`)
	write(t, gw, "/W/node_modules/deep/a/top.d.ts", "")
	write(t, gw, "/W/node_modules/deep/a/b/c/bottom.d.ts", "")

	ta := NewTypeAcquisition(config.TypeAcquisitionConfig{MaxDepth: 1, Timeout: time.Second}, logging.NewNop())
	require.NoError(t, ta.acquire(t.Context(), h, []byte(`{"dependencies":{"deep":"^1"}}`)))

	paths := libPaths(h.Editor().ExtraLibs())
	assert.Contains(t, paths, "file:///node_modules/deep/a/top.d.ts")
	assert.NotContains(t, paths, "file:///node_modules/deep/a/b/c/bottom.d.ts")
}
