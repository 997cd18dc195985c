package workspace

import (
	"sync/atomic"
)

// Kind distinguishes files from directories.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// NodeID identifies a node across immutable edits. Renaming a node or
// replacing its children keeps the ID.
type NodeID uint64

var lastNodeID atomic.Uint64

func nextNodeID() NodeID {
	return NodeID(lastNodeID.Add(1))
}

// Node is an immutable file or directory. Values are shared between
// workspace snapshots and must never be mutated after construction.
type Node struct {
	id          NodeID
	kind        Kind
	name        string
	content     string
	language    string
	userManaged bool
	children    []*Node
}

// NewFile creates a file node whose language is derived from its name.
func NewFile(name, content string) *Node {
	return &Node{
		id:       nextNodeID(),
		kind:     KindFile,
		name:     name,
		content:  content,
		language: LanguageFor(name),
	}
}

// NewDirectory creates a directory node holding children in order.
func NewDirectory(name string, children ...*Node) *Node {
	return &Node{
		id:       nextNodeID(),
		kind:     KindDirectory,
		name:     name,
		children: append([]*Node(nil), children...),
	}
}

func (n *Node) ID() NodeID { return n.id }
func (n *Node) Kind() Kind { return n.kind }
func (n *Node) Name() string { return n.name }
func (n *Node) IsFile() bool { return n.kind == KindFile }
func (n *Node) IsDirectory() bool { return n.kind == KindDirectory }
func (n *Node) Content() string { return n.content }
func (n *Node) Language() string { return n.language }
func (n *Node) UserManaged() bool { return n.userManaged }
func (n *Node) ChildCount() int { return len(n.children) }
func (n *Node) Child(i int) *Node { return n.children[i] }

// Children returns a copy of the ordered child sequence.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

func (n *Node) clone() *Node {
	c := *n
	return &c
}

// WithName returns a copy of n carrying a new name. The language of a file
// follows its new extension.
func (n *Node) WithName(name string) *Node {
	c := n.clone()
	c.name = name
	if c.kind == KindFile {
		c.language = LanguageFor(name)
	}
	return c
}

// WithChildren returns a copy of the directory n with a new child sequence.
func (n *Node) WithChildren(children []*Node) *Node {
	c := n.clone()
	c.children = append([]*Node(nil), children...)
	return c
}

// WithLanguage overrides the language tag of a file.
func (n *Node) WithLanguage(language string) *Node {
	c := n.clone()
	c.language = language
	return c
}

// AsUserManaged marks a node as created interactively.
func (n *Node) AsUserManaged() *Node {
	c := n.clone()
	c.userManaged = true
	return c
}

// Same reports whether a and b refer to the same logical node.
func Same(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.id == b.id
}
