package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
)

// Object describes a stored blob.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// Storage keeps blobs under slash-separated keys.
type Storage interface {
	// Put stores size bytes read from body under key.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns the public URL of key.
	URL(key string) string
}

var (
	imageTypes = map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
		"image/heic": true,
		"image/heif": true,
		"image/avif": true,
		"image/tiff": true,
		"image/bmp":  true,
	}
	videoTypes = map[string]bool{
		"video/mp4":        true,
		"video/mpeg":       true,
		"video/webm":       true,
		"video/ogg":        true,
		"video/quicktime":  true,
		"video/x-msvideo":  true,
		"video/3gpp":       true,
		"video/x-matroska": true,
	}
)

// IsImage reports whether contentType is a supported photo type.
func IsImage(contentType string) bool { return imageTypes[baseType(contentType)] }

// IsVideo reports whether contentType is a supported video type.
func IsVideo(contentType string) bool { return videoTypes[baseType(contentType)] }

func baseType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// sniffLen is the number of bytes http.DetectContentType looks at.
const sniffLen = 512

// DetectContentType sniffs the head of r. The returned reader replays the
// sniffed bytes followed by the rest of r.
func DetectContentType(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, fmt.Errorf("%w: %v", ErrFailedToRead, err)
	}
	head = head[:n]
	if n == 0 {
		return "", nil, ErrEmptyObject
	}
	return http.DetectContentType(head), io.MultiReader(bytes.NewReader(head), r), nil
}

// ExtensionFor returns the canonical extension for contentType, or "".
func ExtensionFor(contentType string) string {
	switch mt := baseType(contentType); mt {
	case "image/jpeg":
		return ".jpg"
	case "video/quicktime":
		return ".mov"
	default:
		exts, _ := mime.ExtensionsByType(mt)
		if len(exts) > 0 {
			return exts[0]
		}
	}
	return ""
}

// CleanKey normalizes key and rejects empty, absolute and traversing keys.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
