// Package theme maps the site appearance onto editor and terminal themes.
package theme

import (
	"fmt"
	"strings"

	"github.com/conneroisu/playground/internal/errors"
)

// Appearance is the site-wide colour scheme.
type Appearance string

const (
	Light Appearance = "light"
	Dark  Appearance = "dark"
)

// ParseAppearance accepts "light" or "dark" in any case.
func ParseAppearance(s string) (Appearance, error) {
	switch Appearance(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light, nil
	case Dark:
		return Dark, nil
	}
	return "", errors.NewConfigError(fmt.Sprintf("unknown appearance %q", s))
}

// EditorTheme returns the built-in editor theme name for a.
func EditorTheme(a Appearance) string {
	if a == Dark {
		return "vs-dark"
	}
	return "vs"
}

// Palette is a terminal colour theme. Colours are CSS hex strings.
type Palette struct {
	Name          string `json:"name"`
	Foreground    string `json:"foreground"`
	Background    string `json:"background"`
	Cursor        string `json:"cursor"`
	Selection     string `json:"selectionBackground"`
	Black         string `json:"black"`
	Red           string `json:"red"`
	Green         string `json:"green"`
	Yellow        string `json:"yellow"`
	Blue          string `json:"blue"`
	Magenta       string `json:"magenta"`
	Cyan          string `json:"cyan"`
	White         string `json:"white"`
	BrightBlack   string `json:"brightBlack"`
	BrightRed     string `json:"brightRed"`
	BrightGreen   string `json:"brightGreen"`
	BrightYellow  string `json:"brightYellow"`
	BrightBlue    string `json:"brightBlue"`
	BrightMagenta string `json:"brightMagenta"`
	BrightCyan    string `json:"brightCyan"`
	BrightWhite   string `json:"brightWhite"`
}

// MonokaiSoda is the dark terminal palette.
var MonokaiSoda = Palette{
	Name:          "monokai-soda",
	Foreground:    "#c4c5b5",
	Background:    "#1a1a1a",
	Cursor:        "#f6f7ec",
	Selection:     "#343434",
	Black:         "#1a1a1a",
	Red:           "#f4005f",
	Green:         "#98e024",
	Yellow:        "#fa8419",
	Blue:          "#9d65ff",
	Magenta:       "#f4005f",
	Cyan:          "#58d1eb",
	White:         "#c4c5b5",
	BrightBlack:   "#625e4c",
	BrightRed:     "#f4005f",
	BrightGreen:   "#98e024",
	BrightYellow:  "#e0d561",
	BrightBlue:    "#9d65ff",
	BrightMagenta: "#f4005f",
	BrightCyan:    "#58d1eb",
	BrightWhite:   "#f6f6ef",
}

// NightOwlishLight is the light terminal palette.
var NightOwlishLight = Palette{
	Name:          "night-owlish-light",
	Foreground:    "#403f53",
	Background:    "#ffffff",
	Cursor:        "#403f53",
	Selection:     "#f2f2f2",
	Black:         "#011627",
	Red:           "#d3423e",
	Green:         "#2aa298",
	Yellow:        "#daaa01",
	Blue:          "#4876d6",
	Magenta:       "#403f53",
	Cyan:          "#08916a",
	White:         "#7a8181",
	BrightBlack:   "#7a8181",
	BrightRed:     "#f76e6e",
	BrightGreen:   "#49d0c5",
	BrightYellow:  "#dac26b",
	BrightBlue:    "#5ca7e4",
	BrightMagenta: "#697098",
	BrightCyan:    "#00c990",
	BrightWhite:   "#989fb1",
}

// TerminalPalette returns the terminal palette for a.
func TerminalPalette(a Appearance) Palette {
	if a == Light {
		return NightOwlishLight
	}
	return MonokaiSoda
}
