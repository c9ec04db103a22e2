package transfer

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// decodeInline decodes the inline_content field of a small file-transfer
// frame. It supports three encodings: a data: URL, raw base64, or (for
// text/* mime types) literal UTF-8 text.
func decodeInline(mime, content string) ([]byte, error) {
	if strings.HasPrefix(content, "data:") {
		idx := strings.Index(content, ",")
		if idx < 0 {
			return nil, fmt.Errorf("decode inline content: malformed data URL")
		}

		header := content[:idx]
		body := content[idx+1:]

		if strings.Contains(header, ";base64") {
			return base64.StdEncoding.DecodeString(body)
		}

		return []byte(body), nil
	}

	if strings.HasPrefix(mime, "text/") {
		return []byte(content), nil
	}

	return base64.StdEncoding.DecodeString(content)
}
