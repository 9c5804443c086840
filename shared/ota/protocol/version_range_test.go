package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name    string
		version string
		expr    string
		want    bool
	}{
		{name: "lower bound", version: "1.2.0", expr: ">=1.0.0", want: true},
		{name: "lower bound with space", version: "0.9.0", expr: ">= 1.0.0", want: false},
		{name: "and range inside", version: "1.5.0", expr: ">=1.0.0 <2.0.0", want: true},
		{name: "and range upper excluded", version: "2.0.0", expr: ">=1.0.0 <2.0.0", want: false},
		{name: "caret", version: "1.9.3", expr: "^1.4.0", want: true},
		{name: "caret next major", version: "2.0.0", expr: "^1.4.0", want: false},
		{name: "caret zero major", version: "0.3.1", expr: "^0.2.0", want: false},
		{name: "tilde", version: "2.1.9", expr: "~2.1", want: true},
		{name: "tilde next minor", version: "2.2.0", expr: "~2.1.0", want: false},
		{name: "x wildcard", version: "1.7.2", expr: "1.x", want: true},
		{name: "x wildcard other major", version: "3.0.0", expr: "1.x", want: false},
		{name: "exact", version: "0.74.1", expr: "0.74.1", want: true},
		{name: "exact mismatch", version: "0.74.2", expr: "0.74.1", want: false},
		{name: "star", version: "5.0.0", expr: "*", want: true},
		{name: "hyphen", version: "1.3.0", expr: "1.2.3 - 1.4.0", want: true},
		{name: "or", version: "3.1.0", expr: "^1.0.0 || >=3", want: true},
		{name: "or none", version: "2.1.0", expr: "^1.0.0 || >=3", want: false},
		{name: "pessimistic", version: "1.2.9", expr: "~>1.2.0", want: true},
		{name: "v prefix", version: "1.0.0", expr: ">=v1.0.0", want: true},
		{name: "partial upper bound inclusive", version: "1.2.5", expr: "<=1.2", want: true},
		{name: "partial upper bound next minor", version: "1.3.0", expr: "<=1.2", want: false},
		{name: "partial greater than", version: "1.2.5", expr: ">1.2", want: false},
		{name: "partial greater than next minor", version: "1.3.0", expr: ">1.2", want: true},
		{name: "partial less than", version: "1.1.9", expr: "<1.2", want: true},
		{name: "partial less than excluded", version: "1.2.0", expr: "<1.2", want: false},
		{name: "hyphen partial upper", version: "1.4.5", expr: "1.2.3 - 1.4", want: true},
		{name: "hyphen partial upper exceeded", version: "1.5.0", expr: "1.2.3 - 1.4", want: false},
		{name: "short device version", version: "1.2", expr: ">=1.2.0", want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Satisfies(tc.version, tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSatisfies_Errors(t *testing.T) {
	_, err := Satisfies("1.0.0", "")
	assert.Error(t, err, "empty range")

	_, err = Satisfies("1.0.0", ">=banana")
	assert.Error(t, err, "malformed range")

	_, err = Satisfies("not-a-version", ">=1.0.0")
	assert.Error(t, err, "malformed version")
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion(" 1.4 ")
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", v.String())

	_, err = ParseVersion("garbage")
	assert.Error(t, err)
}

func TestParseVersionRange_String(t *testing.T) {
	r, err := ParseVersionRange(" ^1.0.0 ")
	require.NoError(t, err)
	assert.Equal(t, "^1.0.0", r.String())
}
