// Package linkresolver turns catalog content descriptors into fetchable locations.
//
// The remote platform obfuscates some links with AES-128-CBC under a key and IV that are
// baked into its client apps. The same constants are reproduced here so that links can be
// read back. They are a known weakness of the remote platform, not a secret of this service,
// and must not be reused to protect any other data.
package linkresolver

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kursadbilgin/course-relay/internal/domain"
)

var (
	platformKey = []byte("638udh3829162018")
	platformIV  = []byte("fedcba9876543210")
)

var youTubePattern = regexp.MustCompile(`(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`)

// DecryptionError reports a descriptor that could not be decoded or decrypted.
type DecryptionError struct {
	Reason string
	Cause  error
}

func (e *DecryptionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

func (e *DecryptionError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Cause != nil {
		return []error{domain.ErrUnresolvable, e.Cause}
	}
	return []error{domain.ErrUnresolvable}
}

// Resolver resolves raw catalog locations. It is stateless and safe for concurrent use.
type Resolver struct {
	block cipher.Block
	iv    []byte
}

func New() *Resolver {
	block, err := aes.NewCipher(platformKey)
	if err != nil {
		// 16-byte key, cannot fail.
		panic(err)
	}
	return &Resolver{block: block, iv: platformIV}
}

// Resolve returns the final location for raw. Public video-host links and plain http(s)
// links that are not flagged as encrypted pass through unchanged; anything else is treated
// as base64 ciphertext with optional ":"-separated metadata.
func (r *Resolver) Resolve(raw string, encrypted bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty location", domain.ErrUnresolvable)
	}
	if IsPublicVideoURL(trimmed) {
		return trimmed, nil
	}
	if !encrypted && isHTTPURL(trimmed) {
		return trimmed, nil
	}
	return r.decrypt(trimmed)
}

func (r *Resolver) decrypt(payload string) (string, error) {
	encoded, _, _ := strings.Cut(payload, ":")

	ciphertext, err := decodeBase64(encoded)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64", Cause: err}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &DecryptionError{Reason: fmt.Sprintf("ciphertext length %d is not a multiple of the block size", len(ciphertext))}
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(r.block, r.iv).CryptBlocks(plain, ciphertext)

	plain, err = unpad(plain)
	if err != nil {
		return "", &DecryptionError{Reason: "bad padding", Cause: err}
	}
	if !utf8.Valid(plain) {
		return "", &DecryptionError{Reason: "plaintext is not valid utf-8"}
	}

	location := strings.TrimSpace(string(plain))
	if location == "" {
		return "", &DecryptionError{Reason: "empty plaintext"}
	}
	return location, nil
}

// Encrypt produces a descriptor in the platform's format. Used by tests and tooling.
func (r *Resolver) Encrypt(plain string) string {
	padded := pad([]byte(plain))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(r.block, r.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

// IsPublicVideoURL reports whether location points at a public video host.
func IsPublicVideoURL(location string) bool {
	return youTubePattern.MatchString(location)
}

// YouTubeID extracts the 11-character video id, or "" when location is not a YouTube link.
func YouTubeID(location string) string {
	match := youTubePattern.FindStringSubmatch(location)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

func isHTTPURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return decoded, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

var errPadding = errors.New("invalid pkcs7 padding")

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errPadding
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errPadding
	}
	return b[:len(b)-n], nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}
