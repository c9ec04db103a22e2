package transfer

import (
	"bytes"
	"testing"
)

func TestDecodeInlineDataURLBase64(t *testing.T) {
	t.Parallel()

	got, err := decodeInline("image/png", "data:image/png;base64,AAECAwQFBgcICQoL")
	if err != nil {
		t.Fatalf("decodeInline: %v", err)
	}

	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if !bytes.Equal(got, want) {
		t.Errorf("decodeInline = %v, want %v", got, want)
	}
}

func TestDecodeInlineRawTextForTextMime(t *testing.T) {
	t.Parallel()

	got, err := decodeInline("text/plain", "hello")
	if err != nil {
		t.Fatalf("decodeInline: %v", err)
	}

	if string(got) != "hello" {
		t.Errorf("decodeInline = %q, want %q", got, "hello")
	}
}

func TestDecodeInlineRawBase64Fallback(t *testing.T) {
	t.Parallel()

	got, err := decodeInline("application/octet-stream", "AAECAwQFBgcICQoL")
	if err != nil {
		t.Fatalf("decodeInline: %v", err)
	}

	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if !bytes.Equal(got, want) {
		t.Errorf("decodeInline = %v, want %v", got, want)
	}
}

func TestDecodeInlineMalformedDataURL(t *testing.T) {
	t.Parallel()

	if _, err := decodeInline("image/png", "data:image/png;base64"); err == nil {
		t.Error("decodeInline on malformed data URL = nil error, want error")
	}
}
