package vpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryfs/quarry/pkg/gwerr"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "empty is root", in: "", want: "/"},
		{name: "root", in: "/", want: "/"},
		{name: "simple", in: "/docs/a.txt", want: "/docs/a.txt"},
		{name: "missing leading slash", in: "docs/a.txt", want: "/docs/a.txt"},
		{name: "duplicate slashes", in: "//docs///a.txt", want: "/docs/a.txt"},
		{name: "trailing slash stripped", in: "/docs/", want: "/docs"},
		{name: "dot segment rejected", in: "/docs/./a", wantErr: true},
		{name: "dotdot segment rejected", in: "/docs/../etc", wantErr: true},
		{name: "backslash rejected", in: "/docs\\evil", wantErr: true},
		{name: "nul rejected", in: "/docs/\x00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Clean(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, gwerr.Is(err, gwerr.KindInvalidPath))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParentBase(t *testing.T) {
	assert.Equal(t, "/", Parent("/"))
	assert.Equal(t, "/", Parent("/docs"))
	assert.Equal(t, "/docs", Parent("/docs/a.txt"))
	assert.Equal(t, "", Base("/"))
	assert.Equal(t, "a.txt", Base("/docs/a.txt"))
	assert.Equal(t, "/docs/a", Join("/docs", "a"))
	assert.Equal(t, "/a", Join("/", "a"))
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix("/team-a/x", "/team-a"))
	assert.True(t, HasPrefix("/team-a", "/team-a"))
	assert.True(t, HasPrefix("/anything", "/"))
	assert.False(t, HasPrefix("/team-ab", "/team-a"))
	assert.False(t, HasPrefix("/team-b/x", "/team-a"))
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "x/y", StripPrefix("/m1/x/y", "/m1"))
	assert.Equal(t, "", StripPrefix("/m1", "/m1"))
	assert.Equal(t, "m1/x", StripPrefix("/m1/x", "/"))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/"}, Ancestors("/"))
	assert.Equal(t, []string{"/"}, Ancestors("/a.txt"))
	assert.Equal(t, []string{"/", "/docs"}, Ancestors("/docs/a.txt"))
	assert.Equal(t, []string{"/", "/a", "/a/b"}, Ancestors("/a/b/c"))
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, Depth("/"))
	assert.Equal(t, 1, Depth("/a"))
	assert.Equal(t, 3, Depth("/a/b/c"))
}
