// Package images stores uploaded post images and removes them once no post
// references them. References have the form "images/<name>".
package images

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Prefix starts every image reference handed out by Manager.
const Prefix = "images/"

var ErrNotExist = errors.New("image does not exist")

// Object is one stored image.
type Object struct {
	Name    string
	ModTime time.Time
}

// Store is a flat namespace of image files.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	// Delete removes name, returning ErrNotExist if it is absent.
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Object, error)
}

// Presigner is implemented by stores that serve images through temporary URLs.
type Presigner interface {
	PresignGet(ctx context.Context, name string) (string, error)
}

// NameFromRef returns the stored name of an image reference. It rejects
// references outside Prefix and any attempt to leave the image namespace.
func NameFromRef(ref string) (string, bool) {
	name, ok := strings.CutPrefix(ref, Prefix)
	if !ok {
		return "", false
	}
	if !validName(name) {
		return "", false
	}
	return name, true
}

// RefFromName is the inverse of NameFromRef.
func RefFromName(name string) string {
	return Prefix + name
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
