package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/workspace"
)

type memEntry struct {
	dir        bool
	data       []byte
	executable bool
}

type memWatch struct {
	path string
	ch   chan struct{}
}

// CommandHandler scripts the behaviour of commands spawned in a Memory
// sandbox. It runs in its own goroutine; the process exits with the returned
// code once it returns.
type CommandHandler func(ctx context.Context, command string, proc *MemoryProcess) int

// FaultHook is consulted before each filesystem operation; a non-nil error
// fails the operation.
type FaultHook func(op, path string) error

// Memory is an in-memory sandbox. Processes are scripted fakes.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*memEntry
	watches  map[uint64]*memWatch
	nextID   uint64
	handler  CommandHandler
	fault    FaultHook
	commands []string
	shells   []*MemoryProcess
	procs    []*MemoryProcess
	writes   map[string]int
	closed   bool
}

// NewMemory creates an empty in-memory sandbox holding only "/".
func NewMemory() *Memory {
	return &Memory{
		entries: map[string]*memEntry{"/": {dir: true}},
		watches: make(map[uint64]*memWatch),
		writes:  make(map[string]int),
	}
}

// HandleCommands installs the script for spawned commands.
func (m *Memory) HandleCommands(h CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// InjectFaults installs a hook that can fail filesystem operations.
func (m *Memory) InjectFaults(h FaultHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = h
}

// Commands returns every command spawned so far.
func (m *Memory) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Shells returns every shell spawned so far.
func (m *Memory) Shells() []*MemoryProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MemoryProcess(nil), m.shells...)
}

// WriteCount returns the number of successful writes to p.
func (m *Memory) WriteCount(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[clean(p)]
}

// IsExecutable reports whether p was installed as an executable.
func (m *Memory) IsExecutable(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[clean(p)]
	return ok && e.executable
}

// Exists reports whether p is present.
func (m *Memory) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[clean(p)]
	return ok
}

// Paths returns every path in sorted order.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func (m *Memory) checkLocked(op, p string) error {
	if m.closed {
		return errors.NewIOError(op, p, fmt.Errorf("sandbox closed"))
	}
	if m.fault != nil {
		if err := m.fault(op, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) parentIsDirLocked(p string) bool {
	parent, ok := m.entries[path.Dir(p)]
	return ok && parent.dir
}

// notifyLocked wakes every watch on p, its ancestors or its descendants.
func (m *Memory) notifyLocked(p string) {
	for _, w := range m.watches {
		if w.path == p || strings.HasPrefix(p, w.path+"/") || strings.HasPrefix(w.path, p+"/") || w.path == "/" {
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
}

// Mount implements Gateway. The tree is built aside and published under the
// lock in one step.
func (m *Memory) Mount(ctx context.Context, tree []*workspace.Node, mountPoint string) error {
	root := clean(mountPoint)
	staged := make(map[string]*memEntry)
	var build func(dir string, nodes []*workspace.Node) error
	build = func(dir string, nodes []*workspace.Node) error {
		for _, n := range nodes {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := path.Join(dir, n.Name())
			if n.IsDirectory() {
				staged[p] = &memEntry{dir: true}
				if err := build(p, n.Children()); err != nil {
					return err
				}
				continue
			}
			staged[p] = &memEntry{data: []byte(n.Content())}
		}
		return nil
	}
	if err := build(root, tree); err != nil {
		return errors.WrapIO(err, "mount", mountPoint)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("mount", root); err != nil {
		return err
	}
	for dir := root; dir != "/"; dir = path.Dir(dir) {
		if _, ok := m.entries[dir]; !ok {
			m.entries[dir] = &memEntry{dir: true}
		}
	}
	for p, e := range staged {
		m.entries[p] = e
		m.notifyLocked(p)
	}
	return nil
}

// MountArchive implements Gateway.
func (m *Memory) MountArchive(ctx context.Context, r io.Reader, mountPoint string) error {
	root := clean(mountPoint)
	staged := make(map[string]*memEntry)
	err := walkArchive(r, func(entry archiveEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := joinSandbox(root, entry.Name)
		if entry.IsDir {
			staged[p] = &memEntry{dir: true}
			return nil
		}
		data, err := io.ReadAll(entry.Body)
		if err != nil {
			return err
		}
		staged[p] = &memEntry{data: data, executable: entry.Mode&0o111 != 0}
		return nil
	})
	if err != nil {
		return errors.WrapIO(err, "mount archive", mountPoint)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("mount archive", root); err != nil {
		return err
	}
	for p, e := range staged {
		for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
			if _, ok := m.entries[dir]; !ok {
				m.entries[dir] = &memEntry{dir: true}
			}
		}
		m.entries[p] = e
		m.notifyLocked(p)
	}
	if _, ok := m.entries[root]; !ok {
		m.entries[root] = &memEntry{dir: true}
	}
	return nil
}

// MakeDirectory implements Gateway.
func (m *Memory) MakeDirectory(_ context.Context, p string) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("mkdir", p); err != nil {
		return err
	}
	if _, ok := m.entries[p]; ok {
		return errors.NewFileAlreadyExistsError(p)
	}
	if !m.parentIsDirLocked(p) {
		return errors.NewFileNotFoundError(path.Dir(p))
	}
	m.entries[p] = &memEntry{dir: true}
	m.notifyLocked(p)
	return nil
}

// MakeDirectoryAll implements Gateway.
func (m *Memory) MakeDirectoryAll(_ context.Context, p string) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("mkdir", p); err != nil {
		return err
	}
	var missing []string
	for dir := p; dir != "/"; dir = path.Dir(dir) {
		e, ok := m.entries[dir]
		if ok && !e.dir {
			return errors.NewFileAlreadyExistsError(dir)
		}
		if ok {
			break
		}
		missing = append(missing, dir)
	}
	for _, dir := range missing {
		m.entries[dir] = &memEntry{dir: true}
		m.notifyLocked(dir)
	}
	return nil
}

// ReadFile implements Gateway.
func (m *Memory) ReadFile(_ context.Context, p string) ([]byte, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("read", p); err != nil {
		return nil, err
	}
	e, ok := m.entries[p]
	if !ok || e.dir {
		return nil, errors.NewFileNotFoundError(p)
	}
	return bytes.Clone(e.data), nil
}

// WriteFile implements Gateway.
func (m *Memory) WriteFile(_ context.Context, p string, data []byte) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("write", p); err != nil {
		return err
	}
	if !m.parentIsDirLocked(p) {
		return errors.NewFileNotFoundError(p)
	}
	if e, ok := m.entries[p]; ok && e.dir {
		return errors.NewIOError("write", p, fmt.Errorf("is a directory"))
	}
	executable := false
	if e, ok := m.entries[p]; ok {
		executable = e.executable
	}
	m.entries[p] = &memEntry{data: bytes.Clone(data), executable: executable}
	m.writes[p]++
	m.notifyLocked(p)
	return nil
}

// ReadDirectory implements Gateway.
func (m *Memory) ReadDirectory(_ context.Context, p string) ([]Entry, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("readdir", p); err != nil {
		return nil, err
	}
	e, ok := m.entries[p]
	if !ok || !e.dir {
		return nil, errors.NewFileNotFoundError(p)
	}

	var out []Entry
	for child, ce := range m.entries {
		if child != "/" && path.Dir(child) == p {
			out = append(out, Entry{Name: path.Base(child), IsDir: ce.dir})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Watch implements Gateway.
func (m *Memory) Watch(ctx context.Context, p string) (<-chan struct{}, error) {
	p = clean(p)
	m.mu.Lock()
	if err := m.checkLocked("watch", p); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	id := m.nextID
	m.nextID++
	w := &memWatch{path: p, ch: make(chan struct{}, 1)}
	m.watches[id] = w
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watches, id)
		close(w.ch)
		m.mu.Unlock()
	}()
	return w.ch, nil
}

// RemovePath implements Gateway.
func (m *Memory) RemovePath(_ context.Context, p string, recursive bool) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("remove", p); err != nil {
		return err
	}
	e, ok := m.entries[p]
	if !ok {
		return errors.NewFileNotFoundError(p)
	}
	if p == "/" {
		return errors.NewIOError("remove", p, fmt.Errorf("refusing to remove the sandbox root"))
	}
	if e.dir {
		for child := range m.entries {
			if strings.HasPrefix(child, p+"/") {
				if !recursive {
					return errors.NewIOError("remove", p, fmt.Errorf("directory not empty"))
				}
				delete(m.entries, child)
			}
		}
	}
	delete(m.entries, p)
	m.notifyLocked(p)
	return nil
}

// RenamePath implements Gateway.
func (m *Memory) RenamePath(_ context.Context, oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("rename", oldPath); err != nil {
		return err
	}
	if _, ok := m.entries[oldPath]; !ok {
		return errors.NewFileNotFoundError(oldPath)
	}
	if _, ok := m.entries[newPath]; ok {
		return errors.NewFileAlreadyExistsError(newPath)
	}
	if !m.parentIsDirLocked(newPath) {
		return errors.NewFileNotFoundError(path.Dir(newPath))
	}

	moved := make(map[string]*memEntry)
	for p, e := range m.entries {
		if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
			moved[newPath+strings.TrimPrefix(p, oldPath)] = e
			delete(m.entries, p)
		}
	}
	for p, e := range moved {
		m.entries[p] = e
	}
	m.notifyLocked(oldPath)
	m.notifyLocked(newPath)
	return nil
}

// InstallExecutable implements Gateway.
func (m *Memory) InstallExecutable(ctx context.Context, name string, script []byte) error {
	p := clean(name)
	if err := m.WriteFile(ctx, p, script); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p].executable = true
	return nil
}

// ShellPath implements Gateway.
func (m *Memory) ShellPath(p string) string {
	return clean(p)
}

// SpawnShell implements Gateway. The shell echoes nothing by itself; tests
// drive its output with Emit and inspect its input with Written.
func (m *Memory) SpawnShell(_ context.Context, opts ShellOptions) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("spawn shell", ""); err != nil {
		return nil, err
	}
	proc := newMemoryProcess("shell")
	proc.cols, proc.rows = opts.Cols, opts.Rows
	m.shells = append(m.shells, proc)
	m.procs = append(m.procs, proc)
	return proc, nil
}

// SpawnCommand implements Gateway. Without a handler commands exit 0
// immediately.
func (m *Memory) SpawnCommand(ctx context.Context, command string) (Process, error) {
	m.mu.Lock()
	if err := m.checkLocked("spawn", command); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	proc := newMemoryProcess(command)
	m.commands = append(m.commands, command)
	m.procs = append(m.procs, proc)
	handler := m.handler
	m.mu.Unlock()

	go func() {
		code := 0
		if handler != nil {
			code = handler(ctx, command, proc)
		}
		proc.Exit(code)
	}()
	return proc, nil
}

// Close kills every process and drops all content.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	procs := m.procs
	m.procs = nil
	m.entries = map[string]*memEntry{}
	m.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}
	return nil
}

// MemoryProcess is a scripted fake process.
type MemoryProcess struct {
	Command string

	mu       sync.Mutex
	input    bytes.Buffer
	inputCh  chan struct{}
	outR     *io.PipeReader
	outW     *io.PipeWriter
	exited   chan struct{}
	exitCode int
	cols     int
	rows     int
	resizes  int
	once     sync.Once
}

func newMemoryProcess(command string) *MemoryProcess {
	r, w := io.Pipe()
	return &MemoryProcess{
		Command: command,
		inputCh: make(chan struct{}, 1),
		outR:    r,
		outW:    w,
		exited:  make(chan struct{}),
	}
}

type memoryInput struct{ p *MemoryProcess }

func (w memoryInput) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	select {
	case <-w.p.exited:
		return 0, io.ErrClosedPipe
	default:
	}
	n, err := w.p.input.Write(b)
	select {
	case w.p.inputCh <- struct{}{}:
	default:
	}
	return n, err
}

func (p *MemoryProcess) Input() io.Writer { return memoryInput{p} }
func (p *MemoryProcess) Output() io.Reader { return p.outR }
func (p *MemoryProcess) Exited() <-chan struct{} { return p.exited }

// ExitCode is valid once Exited is closed.
func (p *MemoryProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Resize implements Process.
func (p *MemoryProcess) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	p.resizes++
	return nil
}

// Size returns the last applied terminal size and the number of resizes.
func (p *MemoryProcess) Size() (cols, rows, resizes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows, p.resizes
}

// Written returns everything written to the process input.
func (p *MemoryProcess) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// InputChanged is signalled after each input write.
func (p *MemoryProcess) InputChanged() <-chan struct{} {
	return p.inputCh
}

// Emit writes b to the process output. It blocks until read.
func (p *MemoryProcess) Emit(b []byte) error {
	_, err := p.outW.Write(b)
	return err
}

// Exit ends the process with code.
func (p *MemoryProcess) Exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		close(p.exited)
		p.mu.Unlock()
		_ = p.outW.Close()
	})
}

// Kill implements Process.
func (p *MemoryProcess) Kill() error {
	p.Exit(-1)
	return nil
}

// Killed reports whether the process has exited.
func (p *MemoryProcess) Killed() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}
