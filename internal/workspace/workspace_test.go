package workspace

import (
	"encoding/json"
	"testing"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleWorkspace() (Workspace, *Node, *Node, *Node) {
	main := NewFile("main.ts", "a")
	util := NewFile("util.ts", "export {}")
	src := NewDirectory("src", main, util)
	readme := NewFile("README.md", "# hi")
	return New("W", []*Node{src, readme}), src, main, readme
}

func TestPathTo(t *testing.T) {
	ws, src, main, readme := sampleWorkspace()

	tests := []struct {
		name     string
		node     *Node
		expected string
	}{
		{"directory", src, "src"},
		{"nested file", main, "src/main.ts"},
		{"root file", readme, "README.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ws.PathTo(tt.node)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}

	full, err := ws.FullPathTo(main)
	require.NoError(t, err)
	assert.Equal(t, "/W/src/main.ts", full)

	_, err = ws.PathTo(NewFile("ghost.ts", ""))
	assert.True(t, errors.IsNotFound(err))
}

func TestPathToAfterRemoval(t *testing.T) {
	ws, _, main, _ := sampleWorkspace()

	next, err := ws.RemoveNode(main)
	require.NoError(t, err)

	_, err = next.PathTo(main)
	assert.True(t, errors.IsNotFound(err))

	// The original value is untouched.
	p, err := ws.PathTo(main)
	require.NoError(t, err)
	assert.Equal(t, "src/main.ts", p)
}

func TestAppendAndInsert(t *testing.T) {
	ws, src, _, _ := sampleWorkspace()

	appended := ws.Append(NewFile("index.ts", ""))
	assert.Len(t, ws.Tree(), 2)
	require.Len(t, appended.Tree(), 3)
	assert.Equal(t, "index.ts", appended.Tree()[2].Name())

	helper := NewFile("helper.ts", "")
	inserted, err := ws.Insert(src, helper)
	require.NoError(t, err)

	p, err := inserted.PathTo(helper)
	require.NoError(t, err)
	assert.Equal(t, "src/helper.ts", p)

	// The directory keeps its identity after its children changed.
	newSrc, ok := inserted.Lookup(src.ID())
	require.True(t, ok)
	assert.Equal(t, 3, newSrc.ChildCount())
	assert.Equal(t, 2, src.ChildCount())
}

func TestInsertIntoFileFails(t *testing.T) {
	ws, _, main, _ := sampleWorkspace()
	_, err := ws.Insert(main, NewFile("x.ts", ""))
	assert.Error(t, err)
}

func TestReplaceNode(t *testing.T) {
	ws, _, main, _ := sampleWorkspace()

	replacement := NewFile("main.ts", "b")
	next, err := ws.ReplaceNode(main, replacement)
	require.NoError(t, err)

	found, _, ok := next.FindFile("main.ts")
	require.True(t, ok)
	assert.Equal(t, "b", found.Content())
	assert.Equal(t, 0, indexOf(next.Tree()[0].Children(), replacement))

	_, err = ws.ReplaceNode(NewFile("ghost.ts", ""), replacement)
	assert.True(t, errors.IsNotFound(err))
}

func indexOf(nodes []*Node, target *Node) int {
	for i, n := range nodes {
		if Same(n, target) {
			return i
		}
	}
	return -1
}

func TestRemoveNodeScenario(t *testing.T) {
	main := NewFile("main.ts", "a")
	ws := New("W", []*Node{main})

	next, err := ws.RemoveNode(main)
	require.NoError(t, err)

	_, _, ok := next.FindFile("main.ts")
	assert.False(t, ok)

	_, err = next.RemoveNode(main)
	assert.True(t, errors.IsNotFound(err))
}

func TestRename(t *testing.T) {
	ws, _, main, _ := sampleWorkspace()

	next, renamed, err := ws.Rename(main, "app.tsx")
	require.NoError(t, err)
	assert.Equal(t, main.ID(), renamed.ID())
	assert.Equal(t, "typescript", renamed.Language())

	p, err := next.PathTo(main)
	require.NoError(t, err)
	assert.Equal(t, "src/app.tsx", p)

	_, _, err = ws.Rename(main, "util.ts")
	assert.True(t, errors.IsAlreadyExists(err))

	_, _, err = ws.Rename(main, "a/b.ts")
	reason, ok := errors.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ReasonInvalidName, reason)
}

func TestResolve(t *testing.T) {
	ws, src, main, _ := sampleWorkspace()

	node, err := ws.Resolve("/src/main.ts")
	require.NoError(t, err)
	assert.True(t, Same(main, node))

	node, err = ws.Resolve("src")
	require.NoError(t, err)
	assert.True(t, Same(src, node))

	_, err = ws.Resolve("src/missing.ts")
	assert.True(t, errors.IsNotFound(err))
	_, err = ws.Resolve("")
	assert.True(t, errors.IsNotFound(err))
}

func TestFindFile(t *testing.T) {
	ws, src, main, _ := sampleWorkspace()

	found, list, ok := ws.FindFile("main.ts")
	require.True(t, ok)
	assert.True(t, Same(main, found))
	assert.Len(t, list, src.ChildCount())

	// Directories are not files.
	_, _, ok = ws.FindFile("src")
	assert.False(t, ok)
}

func TestWalkOrder(t *testing.T) {
	ws, _, _, _ := sampleWorkspace()

	var paths []string
	require.NoError(t, ws.Walk(func(_ *Node, p string) error {
		paths = append(paths, p)
		return nil
	}))
	assert.Equal(t, []string{"src", "src/main.ts", "src/util.ts", "README.md"}, paths)
}

func TestWithManifest(t *testing.T) {
	ws := New("W", nil, WithDependencies(map[string]string{"effect": "3.8.3"}))

	withManifest := ws.WithManifest()
	manifestNode, err := withManifest.Resolve(ManifestName)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(manifestNode.Content()), &decoded))
	assert.Equal(t, "W", decoded["name"])
	assert.Equal(t, map[string]interface{}{"effect": "3.8.3"}, decoded["dependencies"])

	// A second call does not add another manifest.
	assert.Len(t, withManifest.WithManifest().Tree(), 1)

	// Nothing is generated without dependencies.
	assert.Empty(t, New("W", nil).WithManifest().Tree())
}

func TestRelativePath(t *testing.T) {
	ws := New("playground", nil)
	assert.Equal(t, "/playground", ws.Root())
	assert.Equal(t, "/playground/.pnpm-store", ws.RelativePath(".pnpm-store"))
	assert.Equal(t, "/playground/src/main.ts", ws.RelativePath("/src/main.ts"))
	assert.Equal(t, DefaultPrepare, ws.Prepare())
}
