package workspace

import (
	"testing"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplate(t *testing.T) {
	ws, err := DefaultTemplate()
	require.NoError(t, err)

	assert.Equal(t, "playground", ws.Name())
	assert.Equal(t, "src/main.ts", ws.InitialFile())
	assert.Equal(t, "pnpm install", ws.Prepare())
	assert.Len(t, ws.Snapshots(), 10)
	assert.Equal(t, "snapshot-0", ws.Snapshots()[0])
	assert.Equal(t, "3.8.3", ws.Dependencies()["effect"])

	require.Len(t, ws.Shells(), 1)
	assert.Equal(t, "../run src/main.ts", ws.Shells()[0].Command)

	require.Len(t, ws.Executables(), 1)
	assert.Equal(t, "run", ws.Executables()[0].Name)
	assert.Contains(t, ws.Executables()[0].Script, "tsc-watch")

	main, err := ws.Resolve("src/main.ts")
	require.NoError(t, err)
	assert.Contains(t, main.Content(), "Welcome to the Effect Playground!")
	assert.Equal(t, "typescript", main.Language())
}

func TestParseTemplateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "name: [oops"},
		{"bad workspace name", "name: a/b\ntree: []"},
		{"bad file name", "name: w\ntree:\n  - name: '..'"},
		{"duplicate sibling", "name: w\ntree:\n  - name: a.ts\n  - name: a.ts"},
		{"missing initial file", "name: w\ninitial_file: src/main.ts\ntree: []"},
		{"initial file is directory", "name: w\ninitial_file: src\ntree:\n  - name: src\n    directory: true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseTemplateDuplicateIsAlreadyExists(t *testing.T) {
	_, err := ParseTemplate([]byte("name: w\ntree:\n  - name: src\n    children:\n      - name: a.ts\n      - name: a.ts"))
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestParseTemplateAcceptsAnyFileType(t *testing.T) {
	ws, err := ParseTemplate([]byte("name: w\ntree:\n  - name: Dockerfile\n    content: FROM node\n  - name: LICENSE\n  - name: app.exe"))
	require.NoError(t, err)

	for _, name := range []string{"Dockerfile", "LICENSE", "app.exe"} {
		node, err := ws.Resolve(name)
		require.NoError(t, err, name)
		assert.True(t, node.IsFile())
	}

	// Interactive creation still applies the allow-list.
	_, err = ValidateName("Dockerfile", KindFile)
	reason, ok := errors.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ReasonUnsupportedType, reason)
}

func TestTemplateRoundTrip(t *testing.T) {
	ws, err := DefaultTemplate()
	require.NoError(t, err)

	data, err := ws.ToTemplate().Encode()
	require.NoError(t, err)

	again, err := ParseTemplate(data)
	require.NoError(t, err)
	assert.Equal(t, ws.Name(), again.Name())
	assert.Equal(t, ws.Dependencies(), again.Dependencies())
	assert.Equal(t, ws.Shells(), again.Shells())

	a, err := ws.Resolve("src/main.ts")
	require.NoError(t, err)
	b, err := again.Resolve("src/main.ts")
	require.NoError(t, err)
	assert.Equal(t, a.Content(), b.Content())
}
