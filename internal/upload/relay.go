package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"meetsum/internal/apperr"
	"meetsum/internal/models"
)

const dirPattern = "upload-*"

// ErrNoFile is returned when the multipart form carries no "file" part.
var ErrNoFile = fmt.Errorf("%w: No transcript file provided", apperr.ErrInvalidInput)

var transcriptExts = map[string]bool{
	".txt": true,
	".md":  true,
	".srt": true,
	".vtt": true,
}

var mediaExts = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
}

// Relay copies multipart uploads into private temp directories and removes them again.
type Relay struct {
	baseDir  string
	maxBytes int64
	logger   *slog.Logger
}

func NewRelay(baseDir string, maxBytes int64, logger *slog.Logger) (*Relay, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		baseDir:  baseDir,
		maxBytes: maxBytes,
		logger:   logger.With("component", "upload.Relay"),
	}, nil
}

// BaseDir returns the directory temp uploads are created under.
func (r *Relay) BaseDir() string {
	return r.baseDir
}

// MaxBytes is the largest upload the relay accepts.
func (r *Relay) MaxBytes() int64 {
	return r.maxBytes
}

// Classify decides which class a part belongs to from its declared type, its
// extension and the sniffed leading bytes.
func (r *Relay) Classify(fh *multipart.FileHeader) (models.UploadClass, string, error) {
	if fh == nil {
		return "", "", ErrNoFile
	}
	mediaType := detectType(fh)
	switch {
	case isMedia(mediaType):
		return models.ClassMedia, mediaType, nil
	case isTranscript(mediaType, fh.Filename):
		return models.ClassTranscript, mediaType, nil
	default:
		return "", mediaType, fmt.Errorf("%w: %s", apperr.ErrUnsupportedMedia, mediaType)
	}
}

// Accept validates fh against class and copies it to a fresh temp directory.
// The returned cleanup removes everything the relay and later stages put there.
func (r *Relay) Accept(fh *multipart.FileHeader, class models.UploadClass) (*models.UploadedFile, func(), error) {
	if fh == nil {
		return nil, nil, ErrNoFile
	}
	if r.maxBytes > 0 && fh.Size > r.maxBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes exceeds %d", apperr.ErrTooLarge, fh.Size, r.maxBytes)
	}
	got, mediaType, err := r.Classify(fh)
	if err != nil {
		return nil, nil, err
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

	name := sanitizeName(fh.Filename, mediaType)
	dest := filepath.Join(dir, name)
	if err := copyPart(fh, dest); err != nil {
		cleanup()
		return nil, nil, err
	}
	r.logger.Debug("upload stored", "file", name, "size", fh.Size, "type", mediaType)
	return &models.UploadedFile{
		Name:      name,
		MediaType: mediaType,
		Class:     class,
		Dir:       dir,
		Path:      dest,
		Size:      fh.Size,
	}, cleanup, nil
}

// With runs fn against the accepted upload and removes it before returning,
// whatever fn does.
func (r *Relay) With(fh *multipart.FileHeader, class models.UploadClass, fn func(*models.UploadedFile) error) error {
	file, cleanup, err := r.Accept(fh, class)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(file)
}

func copyPart(fh *multipart.FileHeader, dest string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create upload copy: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write upload copy: %w", err)
	}
	return out.Close()
}

func detectType(fh *multipart.FileHeader) string {
	declared := ""
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			declared = strings.ToLower(parsed)
		}
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return typeOf(fh.Filename, func() (io.ReadCloser, error) { return fh.Open() })
}

// typeOf resolves a media type from the file extension, falling back to the
// sniffed leading bytes of the content.
func typeOf(name string, open func() (io.ReadCloser, error)) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := mediaExts[ext]; ok {
		return mt
	}
	if transcriptExts[ext] {
		return "text/plain"
	}
	f, err := open()
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	sniffed, err := sniff(f)
	if err != nil {
		return "application/octet-stream"
	}
	return sniffed
}

func sniff(r io.Reader) (string, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(buf[:n]))
	return mt, nil
}

func isMedia(mediaType string) bool {
	return strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/")
}

func isTranscript(mediaType, filename string) bool {
	switch mediaType {
	case "text/plain", "text/markdown", "text/vtt", "application/x-subrip":
		return true
	}
	return strings.HasPrefix(mediaType, "text/") && transcriptExts[strings.ToLower(filepath.Ext(filename))]
}

// sanitizeName keeps only the base name and guarantees an extension so CLI
// tools that infer formats from it keep working.
func sanitizeName(name, mediaType string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	if filepath.Ext(name) == "" {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			name += exts[0]
		}
	}
	return name
}
