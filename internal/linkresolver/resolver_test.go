package linkresolver

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/kursadbilgin/course-relay/internal/domain"
)

func TestResolveRoundTrip(t *testing.T) {
	t.Parallel()

	r := New()
	tests := []struct {
		name  string
		plain string
	}{
		{name: "cdn pdf", plain: "https://cdn.example.com/course/101/notes.pdf"},
		{name: "block aligned", plain: "0123456789abcdef"},
		{name: "unicode path", plain: "https://cdn.example.com/भौतिकी.pdf"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := r.Resolve(r.Encrypt(tt.plain), true)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.plain {
				t.Fatalf("Resolve() = %q, want %q", got, tt.plain)
			}
		})
	}
}

func TestResolveDiscardsMetadataSuffix(t *testing.T) {
	t.Parallel()

	r := New()
	plain := "https://cdn.example.com/v/lecture-1.m3u8"

	got, err := r.Resolve(r.Encrypt(plain)+":a1b2c3", true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != plain {
		t.Fatalf("Resolve() = %q, want %q", got, plain)
	}
}

func TestResolveUnpaddedBase64(t *testing.T) {
	t.Parallel()

	r := New()
	plain := "https://cdn.example.com/a.pdf"
	raw := base64.StdEncoding.EncodeToString(mustDecode(t, r.Encrypt(plain)))
	for len(raw) > 0 && raw[len(raw)-1] == '=' {
		raw = raw[:len(raw)-1]
	}

	got, err := r.Resolve(raw, true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != plain {
		t.Fatalf("Resolve() = %q, want %q", got, plain)
	}
}

func TestResolvePassThrough(t *testing.T) {
	t.Parallel()

	r := New()
	tests := []struct {
		name      string
		raw       string
		encrypted bool
	}{
		{name: "youtube watch link even when flagged", raw: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", encrypted: true},
		{name: "youtu.be short link", raw: "https://youtu.be/dQw4w9WgXcQ"},
		{name: "plain https document", raw: "https://cdn.example.com/notes.pdf"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := r.Resolve(tt.raw, tt.encrypted)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.raw {
				t.Fatalf("Resolve() = %q, want unchanged %q", got, tt.raw)
			}
		})
	}
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()

	r := New()

	block, err := aes.NewCipher(platformKey)
	if err != nil {
		t.Fatalf("aes.NewCipher() error = %v", err)
	}
	unpadded := []byte("abcdefghijklmnop")
	badPadding := make([]byte, len(unpadded))
	cipher.NewCBCEncrypter(block, platformIV).CryptBlocks(badPadding, unpadded)

	tests := []struct {
		name          string
		raw           string
		wantDecryptEr bool
	}{
		{name: "wrong padding", raw: base64.StdEncoding.EncodeToString(badPadding), wantDecryptEr: true},
		{name: "not base64", raw: "!!!not-base64!!!", wantDecryptEr: true},
		{name: "short ciphertext", raw: base64.StdEncoding.EncodeToString([]byte("short")), wantDecryptEr: true},
		{name: "flagged plain url", raw: "https://cdn.example.com/a.pdf", wantDecryptEr: true},
		{name: "empty", raw: "   "},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := r.Resolve(tt.raw, true)
			if !errors.Is(err, domain.ErrUnresolvable) {
				t.Fatalf("Resolve() error = %v, want ErrUnresolvable", err)
			}

			var decryptErr *DecryptionError
			if got := errors.As(err, &decryptErr); got != tt.wantDecryptEr {
				t.Fatalf("errors.As(DecryptionError) = %v, want %v (err=%v)", got, tt.wantDecryptEr, err)
			}
		})
	}
}

func TestYouTubeID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10", want: "dQw4w9WgXcQ"},
		{in: "https://www.youtube.com/embed/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{in: "https://youtu.be/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{in: "https://vimeo.com/12345", want: ""},
	}

	for _, tt := range tests {
		if got := YouTubeID(tt.in); got != tt.want {
			t.Fatalf("YouTubeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got := IsPublicVideoURL(tt.in); got != (tt.want != "") {
			t.Fatalf("IsPublicVideoURL(%q) = %v", tt.in, got)
		}
	}
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("DecodeString() error = %v", err)
	}
	return b
}
