package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"meetsum/internal/apperr"
	"meetsum/internal/models"
)

// Stage copies a file from local disk into a fresh temp directory, the same
// way Accept does for uploads. The command line uses it so backends that write
// next to their input never touch the user's directory.
func (r *Relay) Stage(path string, class models.UploadClass) (*models.UploadedFile, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s does not exist", apperr.ErrInvalidInput, path)
		}
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is a directory", apperr.ErrInvalidInput, path)
	}
	if r.maxBytes > 0 && info.Size() > r.maxBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes exceeds %d", apperr.ErrTooLarge, info.Size(), r.maxBytes)
	}

	mediaType := typeOf(path, func() (io.ReadCloser, error) { return os.Open(path) })
	var got models.UploadClass
	switch {
	case isMedia(mediaType):
		got = models.ClassMedia
	case isTranscript(mediaType, path):
		got = models.ClassTranscript
	}
	if got != class {
		return nil, nil, fmt.Errorf("%w: expected %s file, got %s", apperr.ErrUnsupportedMedia, class, mediaType)
	}

	dir, err := os.MkdirTemp(r.baseDir, dirPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("remove upload dir failed", "dir", dir, "err", err)
		}
	}
	name := sanitizeName(filepath.Base(path), mediaType)
	dest := filepath.Join(dir, name)
	if err := copyFile(path, dest); err != nil {
		cleanup()
		return nil, nil, err
	}
	return &models.UploadedFile{
		Name:      name,
		MediaType: mediaType,
		Class:     class,
		Dir:       dir,
		Path:      dest,
		Size:      info.Size(),
	}, cleanup, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create staged copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write staged copy: %w", err)
	}
	return out.Close()
}
