package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const maxNameLen = 100

// extensions lists the accepted content types and, first, the extension
// appended when the uploaded name lacks a matching one.
var extensions = map[string][]string{
	"image/png":  {".png"},
	"image/jpg":  {".jpg", ".jpeg"},
	"image/jpeg": {".jpg", ".jpeg"},
}

// Manager ties stored image files to the lifecycle of the posts using them.
type Manager struct {
	store   Store
	log     logging.Logger
	metrics *metrics.Metrics
	backoff func() retry.Backoff
	now     func() time.Time
}

func NewManager(store Store, log logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:   store,
		log:     log.With("module", "images"),
		metrics: m,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		},
		now: time.Now,
	}
}

// Store saves an upload under a fresh unique name and returns its reference.
// Content types other than PNG and JPEG are a validation error.
func (m *Manager) Store(ctx context.Context, r io.Reader, originalName, contentType string, size int64) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}
	mediaType = strings.ToLower(mediaType)

	if _, ok := extensions[mediaType]; !ok {
		return "", common.NewValidationError("invalid image type", []common.FieldError{
			{Field: "image", Message: "must be a png, jpg or jpeg image"},
		})
	}

	name := uuid.NewString() + "-" + sanitizeName(originalName, mediaType)
	if err := m.store.Put(ctx, name, r, size, mediaType); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}

	m.metrics.ImageStored()
	ref := RefFromName(name)
	m.log.Debug(ctx, "image stored", "image", ref, "size", size)
	return ref, nil
}

// Reclaim removes the image of a post that was deleted or got a new image.
// It never fails: a missing file is a no-op and storage errors are retried,
// then logged and counted.
func (m *Manager) Reclaim(ctx context.Context, ref string) {
	m.remove(ctx, ref, "reclaim")
}

// Discard removes a fresh upload whose request failed afterwards.
// Same policy as Reclaim.
func (m *Manager) Discard(ctx context.Context, ref string) {
	m.remove(ctx, ref, "discard")
}

func (m *Manager) remove(ctx context.Context, ref, op string) {
	if ref == "" {
		return
	}

	name, ok := NameFromRef(ref)
	if !ok {
		m.log.Warn(ctx, "refusing to remove image outside the image store", "image", ref, "op", op)
		m.metrics.ReclaimFailed("invalid_ref")
		return
	}

	// the request may already be finished; removal must still happen
	ctx = context.WithoutCancel(ctx)

	err := retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		err := m.store.Delete(ctx, name)
		if err == nil || errors.Is(err, ErrNotExist) {
			return err
		}
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		m.metrics.ImageReclaimed()
		m.log.Debug(ctx, "image removed", "image", ref, "op", op)
	case errors.Is(err, ErrNotExist):
		m.log.Info(ctx, "image already absent", "image", ref, "op", op)
	default:
		m.metrics.ReclaimFailed("storage")
		m.log.Error(ctx, "image removal failed", "image", ref, "op", op, "error", err)
	}
}

// Sweep deletes stored images that no reference in referenced points to and
// that are older than olderThan. It returns how many were deleted.
func (m *Manager) Sweep(ctx context.Context, referenced map[string]struct{}, olderThan time.Duration) (int, error) {
	objects, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list images: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	swept := 0
	for _, obj := range objects {
		ref := RefFromName(obj.Name)
		if _, ok := referenced[ref]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			continue
		}

		if err := m.store.Delete(ctx, obj.Name); err != nil {
			if errors.Is(err, ErrNotExist) {
				continue
			}
			m.metrics.ReclaimFailed("sweep")
			m.log.Error(ctx, "orphan image removal failed", "image", ref, "error", err)
			continue
		}
		swept++
		m.log.Info(ctx, "orphan image removed", "image", ref)
	}

	m.metrics.ImagesSweptAdd(swept)
	return swept, nil
}

func sanitizeName(original, mediaType string) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := strings.TrimLeft(b.String(), ".")
	ext := strings.ToLower(path.Ext(name))

	matches := false
	for _, e := range extensions[mediaType] {
		if ext == e {
			matches = true
			break
		}
	}
	if !matches {
		ext = extensions[mediaType][0]
		name += ext
	}

	if len(name) > maxNameLen {
		name = name[:maxNameLen-len(ext)] + ext
	}
	if strings.TrimSuffix(name, ext) == "" {
		name = "image" + ext
	}
	return name
}
