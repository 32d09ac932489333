package detection

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/insectid/insectid-go/internal/errors"
)

// DirStore persists crops as JPEG files under a single directory. The
// directory is created on first save.
type DirStore struct {
	Dir string
}

// NewDirStore returns a filesystem crop store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{Dir: dir}
}

// Save writes the crop and returns its path. File names carry the detection
// index plus a random suffix so concurrent batches never collide.
func (s *DirStore) Save(ctx context.Context, detectionIndex int, crop image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", errors.New(err).
			Component("detection").
			Category(errors.CategoryFileIO).
			Context("dir", s.Dir).
			Build()
	}

	name := fmt.Sprintf("crop_%03d_%s.jpg", detectionIndex, uuid.NewString()[:8])
	path := filepath.Join(s.Dir, name)
	if err := imaging.Save(crop, path, imaging.JPEGQuality(90)); err != nil {
		return "", errors.New(err).
			Component("detection").
			Category(errors.CategoryImage).
			Context("path", path).
			Build()
	}
	return path, nil
}
