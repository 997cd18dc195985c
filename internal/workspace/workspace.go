// Package workspace holds the immutable project tree shown in the playground
// together with the pure path operations the sync engine relies on.
//
// A Workspace is a value: every structural edit returns a new Workspace and
// leaves the receiver untouched. Nodes carry stable IDs so a node can still
// be located after it was renamed or its parent was rewritten.
package workspace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/playground/internal/errors"
)

// DefaultPrepare is the install command run once the tree is mounted.
const DefaultPrepare = "pnpm install"

// ManifestName is the well-known dependency manifest file.
const ManifestName = "package.json"

// Shell declares one terminal opened with the workspace.
type Shell struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
}

// Executable is a helper script installed at the sandbox root.
type Executable struct {
	Name   string `yaml:"name" json:"name"`
	Script string `yaml:"script" json:"-"`
}

// Workspace is the whole virtual project.
type Workspace struct {
	name         string
	tree         []*Node
	dependencies map[string]string
	shells       []Shell
	initialFile  string
	snapshots    []string
	prepare      string
	executables  []Executable
}

// Option configures a Workspace at construction.
type Option func(*Workspace)

func WithDependencies(deps map[string]string) Option {
	return func(w *Workspace) {
		w.dependencies = make(map[string]string, len(deps))
		for k, v := range deps {
			w.dependencies[k] = v
		}
	}
}

func WithShells(shells ...Shell) Option {
	return func(w *Workspace) { w.shells = append([]Shell(nil), shells...) }
}

func WithInitialFile(path string) Option {
	return func(w *Workspace) { w.initialFile = strings.TrimPrefix(path, "/") }
}

func WithSnapshots(names ...string) Option {
	return func(w *Workspace) { w.snapshots = append([]string(nil), names...) }
}

func WithPrepare(command string) Option {
	return func(w *Workspace) { w.prepare = command }
}

func WithExecutables(exes ...Executable) Option {
	return func(w *Workspace) { w.executables = append([]Executable(nil), exes...) }
}

// New creates a workspace. The prepare command defaults to DefaultPrepare.
func New(name string, tree []*Node, opts ...Option) Workspace {
	w := Workspace{
		name:    name,
		tree:    append([]*Node(nil), tree...),
		prepare: DefaultPrepare,
	}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

func (w Workspace) Name() string { return w.name }
func (w Workspace) InitialFile() string { return w.initialFile }
func (w Workspace) Prepare() string { return w.prepare }
func (w Workspace) Tree() []*Node { return append([]*Node(nil), w.tree...) }
func (w Workspace) Shells() []Shell { return append([]Shell(nil), w.shells...) }
func (w Workspace) Snapshots() []string { return append([]string(nil), w.snapshots...) }

func (w Workspace) Executables() []Executable {
	return append([]Executable(nil), w.executables...)
}

// Dependencies returns a copy of the declared dependency manifest.
func (w Workspace) Dependencies() map[string]string {
	deps := make(map[string]string, len(w.dependencies))
	for k, v := range w.dependencies {
		deps[k] = v
	}
	return deps
}

// Root is the sandbox-absolute mount point of the workspace.
func (w Workspace) Root() string {
	return "/" + w.name
}

// RelativePath maps a workspace-relative path onto the sandbox.
func (w Workspace) RelativePath(p string) string {
	return w.Root() + "/" + strings.TrimPrefix(p, "/")
}

// PathTo returns the slash-joined names from the root down to target.
func (w Workspace) PathTo(target *Node) (string, error) {
	if target == nil {
		return "", errors.NewFileNotFoundError("")
	}
	segments, ok := findPath(w.tree, target.id)
	if !ok {
		return "", errors.NewFileNotFoundError(target.name)
	}
	return strings.Join(segments, "/"), nil
}

// FullPathTo is PathTo prefixed with the workspace root.
func (w Workspace) FullPathTo(target *Node) (string, error) {
	p, err := w.PathTo(target)
	if err != nil {
		return "", err
	}
	return w.RelativePath(p), nil
}

func findPath(nodes []*Node, id NodeID) ([]string, bool) {
	for _, n := range nodes {
		if n.id == id {
			return []string{n.name}, true
		}
		if n.kind == KindDirectory {
			if rest, ok := findPath(n.children, id); ok {
				return append([]string{n.name}, rest...), true
			}
		}
	}
	return nil, false
}

// Lookup returns the current version of the node with the given ID.
func (w Workspace) Lookup(id NodeID) (*Node, bool) {
	var found *Node
	_ = w.Walk(func(n *Node, _ string) error {
		if n.id == id {
			found = n
			return errStopWalk
		}
		return nil
	})
	return found, found != nil
}

// Resolve is the inverse of PathTo.
func (w Workspace) Resolve(p string) (*Node, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, errors.NewFileNotFoundError(p)
	}

	nodes := w.tree
	var current *Node
	for _, segment := range strings.Split(p, "/") {
		current = nil
		for _, n := range nodes {
			if n.name == segment {
				current = n
				break
			}
		}
		if current == nil {
			return nil, errors.NewFileNotFoundError(p)
		}
		nodes = current.children
	}
	return current, nil
}

// FindFile returns the first file named name in depth-first order together
// with the sequence that contains it.
func (w Workspace) FindFile(name string) (*Node, []*Node, bool) {
	return findFile(w.tree, name)
}

func findFile(nodes []*Node, name string) (*Node, []*Node, bool) {
	for _, n := range nodes {
		if n.kind == KindFile && n.name == name {
			return n, nodes, true
		}
		if n.kind == KindDirectory {
			if found, list, ok := findFile(n.children, name); ok {
				return found, list, true
			}
		}
	}
	return nil, nil, false
}

var errStopWalk = errors.New("stop walk")

// Walk visits every node in pre-order with its workspace-relative path. A
// non-nil error from fn stops the walk and is returned.
func (w Workspace) Walk(fn func(n *Node, p string) error) error {
	err := walk(w.tree, "", fn)
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

func walk(nodes []*Node, prefix string, fn func(n *Node, p string) error) error {
	for _, n := range nodes {
		p := n.name
		if prefix != "" {
			p = prefix + "/" + n.name
		}
		if err := fn(n, p); err != nil {
			return err
		}
		if n.kind == KindDirectory {
			if err := walk(n.children, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// ChildrenOf returns the children of parent, or the root sequence when
// parent is nil. The current version of parent is used.
func (w Workspace) ChildrenOf(parent *Node) ([]*Node, error) {
	if parent == nil {
		return w.Tree(), nil
	}
	current, ok := w.Lookup(parent.id)
	if !ok {
		return nil, errors.NewFileNotFoundError(parent.name)
	}
	if current.kind != KindDirectory {
		return nil, errors.NewValidationError(errors.ReasonInvalidName,
			fmt.Sprintf("%s is not a directory", current.name))
	}
	return current.Children(), nil
}

// Append returns a new workspace with node added at the end of the root.
func (w Workspace) Append(node *Node) Workspace {
	next := w
	next.tree = append(w.Tree(), node)
	return next
}

// Insert appends node to the children of parent, or to the root when parent
// is nil.
func (w Workspace) Insert(parent, node *Node) (Workspace, error) {
	if parent == nil {
		return w.Append(node), nil
	}
	children, err := w.ChildrenOf(parent)
	if err != nil {
		return w, err
	}
	current, _ := w.Lookup(parent.id)
	return w.ReplaceNode(current, current.WithChildren(append(children, node)))
}

// ReplaceNode substitutes old with replacement at the same position.
func (w Workspace) ReplaceNode(old, replacement *Node) (Workspace, error) {
	if old == nil {
		return w, errors.NewFileNotFoundError("")
	}
	tree, ok := rewrite(w.tree, old.id, replacement)
	if !ok {
		return w, errors.NewFileNotFoundError(old.name)
	}
	next := w
	next.tree = tree
	return next, nil
}

// RemoveNode deletes node from its parent sequence.
func (w Workspace) RemoveNode(node *Node) (Workspace, error) {
	if node == nil {
		return w, errors.NewFileNotFoundError("")
	}
	tree, ok := rewrite(w.tree, node.id, nil)
	if !ok {
		return w, errors.NewFileNotFoundError(node.name)
	}
	next := w
	next.tree = tree
	return next, nil
}

// rewrite copies the path from the root to id and substitutes the target,
// deleting it when replacement is nil. Untouched subtrees are shared.
func rewrite(nodes []*Node, id NodeID, replacement *Node) ([]*Node, bool) {
	for i, n := range nodes {
		if n.id == id {
			out := make([]*Node, 0, len(nodes))
			out = append(out, nodes[:i]...)
			if replacement != nil {
				out = append(out, replacement)
			}
			return append(out, nodes[i+1:]...), true
		}
		if n.kind == KindDirectory {
			if children, ok := rewrite(n.children, id, replacement); ok {
				out := append([]*Node(nil), nodes...)
				out[i] = n.WithChildren(children)
				return out, true
			}
		}
	}
	return nil, false
}

// Rename validates name and renames node, keeping its identity.
func (w Workspace) Rename(node *Node, name string) (Workspace, *Node, error) {
	if node == nil {
		return w, nil, errors.NewFileNotFoundError("")
	}
	current, ok := w.Lookup(node.id)
	if !ok {
		return w, nil, errors.NewFileNotFoundError(node.name)
	}
	normalized, err := ValidateName(name, current.kind)
	if err != nil {
		return w, nil, err
	}

	siblings := w.siblingsOf(current.id)
	for _, s := range siblings {
		if s.id != current.id && s.name == normalized {
			p, _ := w.PathTo(s)
			return w, nil, errors.NewFileAlreadyExistsError(p)
		}
	}

	renamed := current.WithName(normalized)
	next, err := w.ReplaceNode(current, renamed)
	if err != nil {
		return w, nil, err
	}
	return next, renamed, nil
}

func (w Workspace) siblingsOf(id NodeID) []*Node {
	var siblings []*Node
	var search func(nodes []*Node) bool
	search = func(nodes []*Node) bool {
		for _, n := range nodes {
			if n.id == id {
				siblings = nodes
				return true
			}
			if n.kind == KindDirectory && search(n.children) {
				return true
			}
		}
		return false
	}
	search(w.tree)
	return siblings
}

// HasChild reports whether a child of parent (root when nil) has name.
func (w Workspace) HasChild(parent *Node, name string) bool {
	children, err := w.ChildrenOf(parent)
	if err != nil {
		return false
	}
	for _, c := range children {
		if c.name == name {
			return true
		}
	}
	return false
}

type manifest struct {
	Name         string            `json:"name"`
	Private      bool              `json:"private"`
	Type         string            `json:"type"`
	Dependencies map[string]string `json:"dependencies"`
}

// WithManifest adds a root package.json generated from the declared
// dependencies unless the tree already carries one.
func (w Workspace) WithManifest() Workspace {
	if len(w.dependencies) == 0 || w.HasChild(nil, ManifestName) {
		return w
	}

	data, err := json.MarshalIndent(manifest{
		Name:         w.name,
		Private:      true,
		Type:         "module",
		Dependencies: w.dependencies,
	}, "", "  ")
	if err != nil {
		return w
	}
	return w.Append(NewFile(ManifestName, string(data)+"\n"))
}

// DependencyNames returns the declared dependency names in sorted order.
func (w Workspace) DependencyNames() []string {
	names := make([]string, 0, len(w.dependencies))
	for name := range w.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
