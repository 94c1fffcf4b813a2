package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2.0", "v2.0"},
		{"v2.0", "v2.0"},
		{" 1.5.1 ", "v1.5.1"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestEqual_PrefixInsensitive(t *testing.T) {
	assert.True(t, Equal("1.9", "v1.9"))
	assert.False(t, Equal("1.9", "v2.0"))
}

func TestNewer(t *testing.T) {
	assert.True(t, Newer("v2.0.0", "1.9.3"))
	assert.False(t, Newer("v1.9.3", "v1.9.3"))
	assert.False(t, Newer("v1.0.0", "v1.9.3"))
	assert.True(t, Newer("v1.0.0", "dev"))
	assert.False(t, Newer("nightly", "v1.0.0"))
}

func TestCurrent_UsesLinkedVersion(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "1.9"
	assert.Equal(t, "v1.9", Current())
}
