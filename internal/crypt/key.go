package crypt

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// GenerateKey returns fresh random key material.
func GenerateKey() ([]byte, error) {
	k := make([]byte, MinKeyMaterial)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return k, nil
}

func EncodeKey(k []byte) string {
	return base64.StdEncoding.EncodeToString(k)
}

// DecodeKey parses base64 key material (standard or URL alphabet, padded or not).
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if k, err := enc.DecodeString(s); err == nil {
			if len(k) < MinKeyMaterial {
				return nil, ErrKeyTooShort
			}
			return k, nil
		}
	}
	return nil, errors.New("key is not valid base64")
}

// LoadOrCreateKey reads key material from path. When the file does not exist
// a new key is generated and written atomically with mode 0600, so the same
// key is returned on every later start.
func LoadOrCreateKey(path string) ([]byte, bool, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		k, err := DecodeKey(string(raw))
		if err != nil {
			return nil, false, fmt.Errorf("key file %s: %w", path, err)
		}
		return k, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("failed to read key file: %w", err)
	}

	k, err := GenerateKey()
	if err != nil {
		return nil, false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewBufferString(EncodeKey(k)+"\n")); err != nil {
		return nil, false, fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return nil, false, fmt.Errorf("failed to restrict key file: %w", err)
	}

	return k, true, nil
}
