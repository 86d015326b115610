// Package blob stores scan media and thumbnails on the local filesystem:
//
//	<root>/scans/<scan_id>/source<ext>
//	<root>/scans/<scan_id>/thumbnails/frame_<idx>.jpg
package blob

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"

	"github.com/romariotrain/media-forensics/internal/scan/models"
	"github.com/romariotrain/media-forensics/internal/scan/repository"
)

const (
	thumbnailMaxWidth = 400
	thumbnailQuality  = 85
)

var thumbnailKey = regexp.MustCompile(`^frame_\d{4,}\.jpg$`)

type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root is empty")
	}
	if err := os.MkdirAll(filepath.Join(root, "scans"), 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FS{root: root}, nil
}

func (s *FS) scanDir(id uuid.UUID) string {
	return filepath.Join(s.root, "scans", id.String())
}

func (s *FS) PutMedia(ctx context.Context, id uuid.UUID, ext string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := s.scanDir(id)
	if err := os.MkdirAll(filepath.Join(dir, "thumbnails"), 0o755); err != nil {
		return fmt.Errorf("create scan dir: %w", err)
	}
	return writeAtomic(filepath.Join(dir, "source"+ext), data)
}

func (s *FS) mediaPath(id uuid.UUID) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.scanDir(id), "source.*"))
	if err != nil {
		return "", fmt.Errorf("find media: %w", err)
	}
	if len(matches) == 0 {
		return "", models.ErrNotFound
	}
	return matches[0], nil
}

func (s *FS) GetMedia(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.mediaPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	return data, nil
}

func (s *FS) OpenMedia(ctx context.Context, id uuid.UUID) (repository.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.mediaPath(id)
	if err != nil {
		return nil, err
	}
	return openBlob(path)
}

func (s *FS) PutThumbnail(ctx context.Context, id uuid.UUID, frameIndex int, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if img == nil || img.Bounds().Empty() {
		return "", fmt.Errorf("%w: empty frame", models.ErrThumbnailWrite)
	}

	key := fmt.Sprintf("frame_%04d.jpg", frameIndex)
	dir := filepath.Join(s.scanDir(id), "thumbnails")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrThumbnailWrite, err)
	}

	f, err := os.CreateTemp(dir, ".thumb-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrThumbnailWrite, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := jpeg.Encode(f, shrink(img), &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: encode: %w", models.ErrThumbnailWrite, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrThumbnailWrite, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, key)); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrThumbnailWrite, err)
	}
	return key, nil
}

func (s *FS) OpenThumbnail(ctx context.Context, id uuid.UUID, key string) (repository.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !thumbnailKey.MatchString(key) {
		return nil, models.ErrNotFound
	}
	return openBlob(filepath.Join(s.scanDir(id), "thumbnails", key))
}

func (s *FS) DeleteScan(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.scanDir(id)); err != nil {
		return fmt.Errorf("delete scan dir: %w", err)
	}
	return nil
}

// shrink scales img down to thumbnailMaxWidth, keeping the aspect ratio.
func shrink(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= thumbnailMaxWidth {
		return img
	}
	h := max(1, b.Dy()*thumbnailMaxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, thumbnailMaxWidth, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

type fileBlob struct {
	*os.File
	name    string
	modTime time.Time
}

func (b *fileBlob) Name() string       { return b.name }
func (b *fileBlob) ModTime() time.Time { return b.modTime }

func openBlob(path string) (repository.Blob, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	return &fileBlob{File: f, name: filepath.Base(path), modTime: st.ModTime()}, nil
}
