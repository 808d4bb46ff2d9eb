package validation

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrInvalidName       = errors.New("invalid file name")
	ErrTooLarge          = errors.New("file too large")
	ErrInvalidTags       = errors.New("invalid tags")
)

const (
	MaxNameLength = 255
	MaxTagsLength = 500
)

// VideoExtensions are the containers accepted for video/* uploads.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

// CleanFileName strips any directory part a client sent along with the name
// and normalizes it to NFC, so the same name typed on different systems
// compares equal.
func CleanFileName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}

	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = norm.NFC.String(strings.TrimSpace(name))

	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name is too long (max %d bytes)", ErrInvalidName, MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control characters are not allowed", ErrInvalidName)
		}
	}

	return name, nil
}

// MediaType returns the lower-cased media type without parameters.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func IsVideo(contentType string) bool {
	return strings.HasPrefix(MediaType(contentType), "video/")
}

// ValidateFormat rejects video uploads whose extension is not an accepted
// container. Only the declared type and name are looked at.
func ValidateFormat(name, contentType string) error {
	if !IsVideo(contentType) {
		return nil
	}
	ext := strings.ToLower(path.Ext(name))
	if !VideoExtensions[ext] {
		return fmt.Errorf("%w: %s is not an accepted video container (mp4, mov, avi, mkv)", ErrUnsupportedFormat, ext)
	}
	return nil
}

func ValidateSize(size, maxSize int64) error {
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("%w: maximum size is %d MB", ErrTooLarge, maxSize/(1<<20))
	}
	return nil
}

func ValidateTags(tags string) error {
	if len(tags) > MaxTagsLength {
		return fmt.Errorf("%w: too long (max %d characters)", ErrInvalidTags, MaxTagsLength)
	}
	return nil
}

// DetectContentType returns declared when the client sent a usable type and
// falls back to sniffing the first 512 bytes.
func DetectContentType(declared string, head []byte) string {
	if mt := MediaType(declared); mt != "" && mt != "application/octet-stream" {
		return declared
	}
	if len(head) > 512 {
		head = head[:512]
	}
	return http.DetectContentType(head)
}
