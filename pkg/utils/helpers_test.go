package utils

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWithin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "uploads")
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"root itself", root, true},
		{"child", filepath.Join(root, "abc"), true},
		{"nested", filepath.Join(root, "abc", "src"), true},
		{"sibling with shared prefix", root + "-old", false},
		{"parent", filepath.Dir(root), false},
		{"escape via dotdot", filepath.Join(root, "..", "etc"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWithin(root, tt.path))
		})
	}
}

func TestUniqueFold(t *testing.T) {
	got := UniqueFold([]string{"Semgrep", " trivy ", "semgrep", "", "TRIVY", "gitleaks"})
	assert.Equal(t, []string{"Semgrep", "trivy", "gitleaks"}, got)
}

func TestParseDurationExtended(t *testing.T) {
	d, err := ParseDurationExtended("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = ParseDurationExtended("30d")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)

	_, err = ParseDurationExtended("soon")
	assert.Error(t, err)
}

func TestMaskSensitiveData(t *testing.T) {
	assert.Equal(t, "****", MaskSensitiveData("abc"))
	assert.Equal(t, "AK****YZ", MaskSensitiveData("AKIAXXXXXXYZ"))
}
