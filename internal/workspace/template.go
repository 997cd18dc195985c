package workspace

import (
	"embed"
	"fmt"
	"os"

	"github.com/conneroisu/playground/internal/errors"
	"gopkg.in/yaml.v3"
)

//go:embed templates/default.yaml
var templatesFS embed.FS

// Template is the YAML form of a workspace.
type Template struct {
	Name         string            `yaml:"name"`
	InitialFile  string            `yaml:"initial_file,omitempty"`
	Prepare      string            `yaml:"prepare,omitempty"`
	Dependencies map[string]string `yaml:"dependencies,omitempty"`
	Snapshots    []string          `yaml:"snapshots,omitempty"`
	Shells       []Shell           `yaml:"shells,omitempty"`
	Executables  []Executable      `yaml:"executables,omitempty"`
	Tree         []TemplateNode    `yaml:"tree"`
}

// TemplateNode is one file or directory in a Template tree. A node with
// children, or with directory set, is a directory.
type TemplateNode struct {
	Name      string         `yaml:"name"`
	Directory bool           `yaml:"directory,omitempty"`
	Content   string         `yaml:"content,omitempty"`
	Language  string         `yaml:"language,omitempty"`
	Children  []TemplateNode `yaml:"children,omitempty"`
}

// DefaultTemplate returns the embedded starter workspace.
func DefaultTemplate() (Workspace, error) {
	data, err := templatesFS.ReadFile("templates/default.yaml")
	if err != nil {
		return Workspace{}, errors.NewInternalError("read embedded template", err)
	}
	return ParseTemplate(data)
}

// LoadTemplate reads a workspace template from disk.
func LoadTemplate(path string) (Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Workspace{}, errors.NewConfigError(fmt.Sprintf("read template %s: %v", path, err))
	}
	return ParseTemplate(data)
}

// ParseTemplate decodes and validates a YAML workspace template.
func ParseTemplate(data []byte) (Workspace, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return Workspace{}, errors.NewConfigError(fmt.Sprintf("parse template: %v", err))
	}
	return tpl.Build()
}

// Build converts the template into a validated Workspace.
func (t Template) Build() (Workspace, error) {
	if _, err := ValidateName(t.Name, KindDirectory); err != nil {
		return Workspace{}, fmt.Errorf("workspace name: %w", err)
	}

	tree, err := buildNodes(t.Tree, "")
	if err != nil {
		return Workspace{}, err
	}

	for _, exe := range t.Executables {
		if _, err := ValidateName(exe.Name, KindDirectory); err != nil {
			return Workspace{}, fmt.Errorf("executable: %w", err)
		}
	}

	opts := []Option{
		WithDependencies(t.Dependencies),
		WithShells(t.Shells...),
		WithSnapshots(t.Snapshots...),
		WithExecutables(t.Executables...),
	}
	if t.Prepare != "" {
		opts = append(opts, WithPrepare(t.Prepare))
	}
	if t.InitialFile != "" {
		opts = append(opts, WithInitialFile(t.InitialFile))
	}

	ws := New(t.Name, tree, opts...)
	if ws.InitialFile() != "" {
		node, err := ws.Resolve(ws.InitialFile())
		if err != nil {
			return Workspace{}, fmt.Errorf("initial file: %w", err)
		}
		if !node.IsFile() {
			return Workspace{}, errors.NewConfigError("initial file is a directory: " + ws.InitialFile())
		}
	}
	return ws, nil
}

func buildNodes(nodes []TemplateNode, parent string) ([]*Node, error) {
	seen := make(map[string]bool, len(nodes))
	out := make([]*Node, 0, len(nodes))

	for _, tn := range nodes {
		kind := KindFile
		if tn.Directory || len(tn.Children) > 0 {
			kind = KindDirectory
		}

		name, err := normalizeName(tn.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", joinPath(parent, tn.Name), err)
		}
		p := joinPath(parent, name)
		if seen[name] {
			return nil, errors.NewFileAlreadyExistsError(p)
		}
		seen[name] = true

		if kind == KindFile {
			node := NewFile(name, tn.Content)
			if tn.Language != "" {
				node = node.WithLanguage(tn.Language)
			}
			out = append(out, node)
			continue
		}

		children, err := buildNodes(tn.Children, p)
		if err != nil {
			return nil, err
		}
		out = append(out, NewDirectory(name, children...))
	}
	return out, nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// ToTemplate converts a workspace back into its YAML form.
func (w Workspace) ToTemplate() Template {
	return Template{
		Name:         w.name,
		InitialFile:  w.initialFile,
		Prepare:      w.prepare,
		Dependencies: w.Dependencies(),
		Snapshots:    w.Snapshots(),
		Shells:       w.Shells(),
		Executables:  w.Executables(),
		Tree:         toTemplateNodes(w.tree),
	}
}

func toTemplateNodes(nodes []*Node) []TemplateNode {
	out := make([]TemplateNode, 0, len(nodes))
	for _, n := range nodes {
		tn := TemplateNode{Name: n.name}
		if n.kind == KindDirectory {
			tn.Directory = true
			tn.Children = toTemplateNodes(n.children)
		} else {
			tn.Content = n.content
			if n.language != LanguageFor(n.name) {
				tn.Language = n.language
			}
		}
		out = append(out, tn)
	}
	return out
}

// Encode renders the template as YAML.
func (t Template) Encode() ([]byte, error) {
	return yaml.Marshal(t)
}
