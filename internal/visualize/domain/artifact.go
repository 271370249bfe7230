package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const (
	// SVGContentType is stored with every artifact.
	SVGContentType = "image/svg+xml"
	// ImmutableCacheControl marks artifacts as cacheable forever; a key
	// never changes content.
	ImmutableCacheControl = "public, max-age=31536000, immutable"

	svgDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`
	svgNamespace   = `xmlns='http://www.w3.org/2000/svg'`
)

// Artifact is a rendered diagram addressed by the digest of its bytes.
type Artifact struct {
	ContentHash string
	StorageKey  string
	Body        []byte
}

// NewArtifact hashes the exact markup with SHA-256, encodes the digest as
// unpadded base64url and derives the storage key "<digest>.svg".
func NewArtifact(markup string) Artifact {
	body := []byte(markup)
	sum := sha256.Sum256(body)
	hash := base64.RawURLEncoding.EncodeToString(sum[:])
	return Artifact{
		ContentHash: hash,
		StorageKey:  hash + ".svg",
		Body:        body,
	}
}

// NormalizeSVG makes renderer output a standalone SVG document: it adds the
// XML declaration and the SVG namespace when missing. Any other byte is left
// alone, so two renders differing only in whitespace stay distinct.
func NormalizeSVG(markup string) string {
	body := strings.TrimPrefix(markup, svgDeclaration)
	body = strings.TrimLeft(body, "\n")
	if start := strings.Index(body, "<svg"); start >= 0 && !rootHasNamespace(body[start:]) {
		body = body[:start] + "<svg " + svgNamespace + body[start+len("<svg"):]
	}
	return svgDeclaration + "\n" + body
}

// rootHasNamespace reports whether the opening tag at the start of tag
// declares a default namespace. Nested elements are not considered.
func rootHasNamespace(tag string) bool {
	if end := strings.IndexByte(tag, '>'); end >= 0 {
		tag = tag[:end]
	}
	return strings.Contains(tag, "xmlns=")
}
