package directory

import (
	"strings"
)

// Split validates p and returns its segments.
func Split(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(p, "/")
	for _, s := range parts {
		if s == "" {
			return nil, ErrInvalidPath
		}
	}
	return parts, nil
}

// IsDocument reports whether p names a document (even number of segments).
func IsDocument(p string) bool {
	parts, err := Split(p)
	return err == nil && len(parts)%2 == 0
}

// IsCollection reports whether p names a collection (odd number of segments).
func IsCollection(p string) bool {
	parts, err := Split(p)
	return err == nil && len(parts)%2 == 1
}

// Parent returns the collection holding document p and the document id.
func Parent(p string) (collection, id string, err error) {
	parts, err := Split(p)
	if err != nil {
		return "", "", err
	}
	if len(parts)%2 != 0 {
		return "", "", ErrInvalidPath
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Clean normalizes p by stripping surrounding slashes.
func Clean(p string) string {
	return strings.Trim(p, "/")
}

// Affects reports whether a change to document docPath is visible to a
// subscription on path sub.
func Affects(sub, docPath string) bool {
	sub, docPath = Clean(sub), Clean(docPath)
	if sub == docPath {
		return true
	}
	collection, _, err := Parent(docPath)
	return err == nil && collection == sub
}
