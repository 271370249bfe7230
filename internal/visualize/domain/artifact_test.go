package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewArtifact(t *testing.T) {
	markup := "<svg xmlns='http://www.w3.org/2000/svg'></svg>"
	sum := sha256.Sum256([]byte(markup))
	wantHash := base64.RawURLEncoding.EncodeToString(sum[:])

	a := NewArtifact(markup)

	assert.Equal(t, wantHash, a.ContentHash)
	assert.Equal(t, wantHash+".svg", a.StorageKey)
	assert.Equal(t, []byte(markup), a.Body)
	assert.NotContains(t, a.ContentHash, "/")
	assert.NotContains(t, a.ContentHash, "+")
	assert.NotContains(t, a.ContentHash, "=")
}

func TestNewArtifact_Deterministic(t *testing.T) {
	assert.Equal(t, NewArtifact("<svg/>").StorageKey, NewArtifact("<svg/>").StorageKey)
	assert.NotEqual(t, NewArtifact("<svg/>").StorageKey, NewArtifact("<svg />").StorageKey,
		"whitespace changes are distinct artifacts")
}

func TestNormalizeSVG(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "adds declaration and namespace",
			in:   "<svg width='10'></svg>",
			want: svgDeclaration + "\n<svg xmlns='http://www.w3.org/2000/svg' width='10'></svg>",
		},
		{
			name: "keeps existing namespace",
			in:   `<svg xmlns="http://www.w3.org/2000/svg"></svg>`,
			want: svgDeclaration + "\n" + `<svg xmlns="http://www.w3.org/2000/svg"></svg>`,
		},
		{
			name: "does not duplicate declaration",
			in:   svgDeclaration + "\n<svg xmlns='x'></svg>",
			want: svgDeclaration + "\n<svg xmlns='x'></svg>",
		},
		{
			name: "nested namespace does not count for the root",
			in:   `<svg width="1"><foreignObject><div xmlns="http://www.w3.org/1999/xhtml">x</div></foreignObject></svg>`,
			want: svgDeclaration + "\n" + `<svg xmlns='http://www.w3.org/2000/svg' width="1"><foreignObject><div xmlns="http://www.w3.org/1999/xhtml">x</div></foreignObject></svg>`,
		},
		{
			name: "prefixed namespace is not the default namespace",
			in:   `<svg xmlns:xlink="http://www.w3.org/1999/xlink"></svg>`,
			want: svgDeclaration + "\n" + `<svg xmlns='http://www.w3.org/2000/svg' xmlns:xlink="http://www.w3.org/1999/xlink"></svg>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSVG(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, strings.Count(got, "<?xml"))
		})
	}
}
