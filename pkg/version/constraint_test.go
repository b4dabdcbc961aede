package version

import (
	"testing"

	"github.com/glorpus-work/modpak/pkg/errors"
	goversion "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(t *testing.T, text string) *goversion.Version {
	t.Helper()
	parsed, err := goversion.NewVersion(text)
	require.NoError(t, err)
	return parsed
}

func TestParseConstraint_Satisfies(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		want       bool
	}{
		// any
		{"*", "0.0.1", true},
		{"*", "99.0.0", true},
		{"", "1.0.0", true},

		// full exact
		{"=1.2.3", "1.2.3", true},
		{"=1.2.3", "1.2.4", false},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.3-alpha.1", false},
		{"=1.2.3-alpha.1", "1.2.3-alpha.1", true},

		// partial exact widens to a range
		{"=1.2", "1.2.0", true},
		{"=1.2", "1.2.5", true},
		{"=1.2", "1.3.0", false},
		{"=1.2", "1.1.9", false},
		{"=1", "1.9.9", true},
		{"=1", "2.0.0", false},

		// wildcard shorthand
		{"1.2.*", "1.2.9", true},
		{"1.2.*", "1.3.0", false},
		{"1.*", "1.999.0", true},
		{"1.*", "2.0.0", false},

		// tilde
		{"~1.2.3", "1.2.3", true},
		{"~1.2.3", "1.2.9", true},
		{"~1.2.3", "1.3.0", false},
		{"~1.2.3", "1.2.2", false},
		{"~1.2", "1.2.99", true},
		{"~1.2", "1.3.0", false},
		{"~1", "1.9.0", true},
		{"~1", "2.0.0", false},

		// caret
		{"^1.2.3", "1.2.3", true},
		{"^1.2.3", "1.9.0", true},
		{"^1.2.3", "2.0.0", false},
		{"^1.2.3", "1.2.2", false},
		{"^0.2.3", "0.2.9", true},
		{"^0.2.3", "0.3.0", false},
		{"^0.0.3", "0.0.3", true},
		{"^0.0.3", "0.0.4", false},
		{"^0.2", "0.2.5", true},
		{"^0.2", "0.3.0", false},

		// relational with padding
		{">1.2", "1.2.0", false},
		{">1.2", "1.2.1", true},
		{">=1.2", "1.2.0", true},
		{"<2", "1.9.9", true},
		{"<2", "2.0.0", false},
		{"<=1.2.3", "1.2.3", true},
		{"<=1.2.3", "1.2.4", false},

		// prerelease ordering is plain semver
		{">=1.2.3-alpha", "1.2.3-beta", true},
		{"<1.2.3", "1.2.3-alpha", true},
	}

	for _, tt := range tests {
		t.Run(tt.constraint+" vs "+tt.version, func(t *testing.T) {
			c, err := ParseConstraint(tt.constraint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Satisfies(v(t, tt.version)))
		})
	}
}

func TestParseConstraint_Invalid(t *testing.T) {
	for _, text := range []string{
		"~*",
		">1.*",
		"*.2.3",
		"1.*.3",
		"1.2.3.4",
		"=1.x",
		"=-alpha",
		"1.2-alpha",
		"!1.2.3",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseConstraint(text)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrParse)
		})
	}
}

func TestParseVersion(t *testing.T) {
	parsed, err := ParseVersion("1.2.3-alpha.1")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3-alpha.1", parsed.String())

	_, err = ParseVersion("not a version")
	assert.ErrorIs(t, err, errors.ErrParse)
}

func TestConstraintString(t *testing.T) {
	c := MustConstraint("^1.2.3")
	assert.Equal(t, "^1.2.3", c.String())
	assert.Equal(t, OpCaret, c.Operator())
}
