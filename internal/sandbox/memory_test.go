package sandbox

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() []*workspace.Node {
	return []*workspace.Node{
		workspace.NewDirectory("src",
			workspace.NewFile("main.ts", "console.log(1)"),
			workspace.NewDirectory("lib"),
		),
		workspace.NewFile("README.md", "# hi"),
	}
}

func TestMemoryMount(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Mount(ctx, sampleTree(), "/playground"))

	data, err := m.ReadFile(ctx, "/playground/src/main.ts")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))

	entries, err := m.ReadDirectory(ctx, "/playground")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "README.md"}, {Name: "src", IsDir: true}}, entries)
	assert.True(t, m.Exists("/playground/src/lib"))
}

func TestMemoryMakeDirectory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.MakeDirectory(ctx, "/a"))

	err := m.MakeDirectory(ctx, "/a")
	assert.True(t, errors.IsAlreadyExists(err))

	err = m.MakeDirectory(ctx, "/missing/child")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, m.MakeDirectoryAll(ctx, "/x/y/z"))
	require.NoError(t, m.MakeDirectoryAll(ctx, "/x/y/z"))
	assert.True(t, m.Exists("/x/y"))
}

func TestMemoryWriteFile(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.WriteFile(ctx, "/nope/file.ts", []byte("x"))
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, m.WriteFile(ctx, "/file.ts", []byte("x")))
	require.NoError(t, m.WriteFile(ctx, "/file.ts", []byte("y")))
	assert.Equal(t, 2, m.WriteCount("/file.ts"))

	_, err = m.ReadFile(ctx, "/other.ts")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryRemoveAndRename(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Mount(ctx, sampleTree(), "/p"))

	err := m.RemovePath(ctx, "/p/src", false)
	require.Error(t, err)

	require.NoError(t, m.RenamePath(ctx, "/p/src", "/p/lib"))
	assert.False(t, m.Exists("/p/src/main.ts"))
	assert.True(t, m.Exists("/p/lib/main.ts"))

	err = m.RenamePath(ctx, "/p/lib", "/p/README.md")
	assert.True(t, errors.IsAlreadyExists(err))

	require.NoError(t, m.RemovePath(ctx, "/p/lib", true))
	assert.False(t, m.Exists("/p/lib/main.ts"))

	err = m.RemovePath(ctx, "/p/lib", true)
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryWatch(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.WriteFile(ctx, "/a.ts", []byte("1")))
	ch, err := m.Watch(ctx, "/a.ts")
	require.NoError(t, err)

	require.NoError(t, m.WriteFile(ctx, "/b.ts", []byte("1")))
	select {
	case <-ch:
		t.Fatal("unrelated write notified the watch")
	default:
	}

	require.NoError(t, m.WriteFile(ctx, "/a.ts", []byte("2")))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestMemoryFaults(t *testing.T) {
	m := NewMemory()
	m.InjectFaults(func(op, path string) error {
		if op == "write" {
			return errors.NewIOError(op, path, io.ErrShortWrite)
		}
		return nil
	})

	err := m.WriteFile(context.Background(), "/a.ts", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, errors.KindIO, errors.Classify(err))
}

func TestMemoryRun(t *testing.T) {
	m := NewMemory()
	m.HandleCommands(func(_ context.Context, command string, proc *MemoryProcess) int {
		_ = proc.Emit([]byte("ran " + command))
		return 3
	})

	var out strings.Builder
	code, err := Run(context.Background(), m, "pnpm install", &out)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "ran pnpm install", out.String())
	assert.Equal(t, []string{"pnpm install"}, m.Commands())
}

func TestMemoryInstallExecutable(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.InstallExecutable(context.Background(), "run", []byte("#!/bin/sh")))
	assert.True(t, m.IsExecutable("/run"))
	assert.Equal(t, `cd "/playground"`, CdCommand(m, "/playground"))
}

func TestMemoryShell(t *testing.T) {
	m := NewMemory()
	proc, err := m.SpawnShell(context.Background(), ShellOptions{Cols: 80, Rows: 24})
	require.NoError(t, err)

	_, err = proc.Input().Write([]byte("ls\n"))
	require.NoError(t, err)
	shell := m.Shells()[0]
	assert.Equal(t, "ls\n", shell.Written())

	require.NoError(t, proc.Resize(100, 40))
	cols, rows, resizes := shell.Size()
	assert.Equal(t, 100, cols)
	assert.Equal(t, 40, rows)
	assert.Equal(t, 1, resizes)

	require.NoError(t, m.Close())
	assert.True(t, shell.Killed())
	_, err = proc.Input().Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
