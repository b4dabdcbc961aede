package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modpak/pkg/errors"
)

func TestParseSpecifier(t *testing.T) {
	tests := []struct {
		text       string
		name       string
		constraint string
	}{
		{"app", "app", "*"},
		{"App", "app", "*"},
		{"app^1.2.0", "app", "^1.2.0"},
		{"app>=2.0.0", "app", ">=2.0.0"},
		{"app~1.2", "app", "~1.2"},
		{"app=1.2.3", "app", "=1.2.3"},
		{"app *", "app", "*"},
		{"lib2^0.3.0", "lib2", "^0.3.0"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			req, err := parseSpecifier(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.name, req.Name)
			assert.Equal(t, tt.constraint, req.Constraint)
		})
	}
}

func TestParseSpecifier_Invalid(t *testing.T) {
	for _, text := range []string{"", "^1.2.0", "9app", "!x"} {
		t.Run(text, func(t *testing.T) {
			_, err := parseSpecifier(text)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrParse)
		})
	}
}

func TestParseSpecifiers(t *testing.T) {
	requests, err := parseSpecifiers([]string{"app^1.0.0", "lib"})
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, "app", requests[0].Name)
	assert.Equal(t, "lib", requests[1].Name)

	_, err = parseSpecifiers([]string{"app", "=broken"})
	require.Error(t, err)
}
