package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeContent decodes base64 file content as returned by the contents API,
// which wraps the encoding across lines. Each line is decoded on its own.
func DecodeContent(encoded string) (string, error) {
	var sb strings.Builder
	for i, line := range strings.Split(encoded, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return "", fmt.Errorf("decoding content line %d: %w", i+1, err)
		}
		sb.Write(b)
	}
	return sb.String(), nil
}
