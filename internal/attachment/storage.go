package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MaxSize caps a single uploaded referral document.
const MaxSize = 10 << 20

var (
	ErrNotFound = errors.New("attachment not found")
	ErrTooLarge = errors.New("attachment too large")
)

// Object describes a stored attachment.
type Object struct {
	Ref         string
	ContentType string
	Size        int64
}

// Storage keeps patient documents referenced by appointments.
type Storage interface {
	Upload(ctx context.Context, subjectID, filename, contentType string, r io.Reader, size int64) (Object, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, Object, error)
}

// NewRef builds an object name scoped to the uploading subject.
func NewRef(subjectID, filename string) string {
	return subjectID + "/" + uuid.NewString() + strings.ToLower(path.Ext(filename))
}

// OwnedBy reports whether ref was uploaded by subjectID.
func OwnedBy(ref, subjectID string) bool {
	owner, rest, ok := strings.Cut(ref, "/")
	return ok && subjectID != "" && owner == subjectID && rest != "" && !strings.Contains(rest, "..")
}

func checkSize(size int64) error {
	if size > MaxSize {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, size, MaxSize)
	}
	return nil
}
