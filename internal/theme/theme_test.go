package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppearance(t *testing.T) {
	testCases := []struct {
		input    string
		expected Appearance
		wantErr  bool
	}{
		{"light", Light, false},
		{"Dark", Dark, false},
		{" dark ", Dark, false},
		{"sepia", "", true},
		{"", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseAppearance(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestThemesFollowAppearance(t *testing.T) {
	assert.Equal(t, "vs-dark", EditorTheme(Dark))
	assert.Equal(t, "vs", EditorTheme(Light))
	assert.Equal(t, MonokaiSoda, TerminalPalette(Dark))
	assert.Equal(t, NightOwlishLight, TerminalPalette(Light))
}
