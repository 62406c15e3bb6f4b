package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"

	"meetsum/internal/apperr"
)

var (
	loaderOnce sync.Once
	loader     *file.FileLoader
	loaderErr  error
)

func transcriptLoader(ctx context.Context) (*file.FileLoader, error) {
	loaderOnce.Do(func() {
		var extParser parser.Parser
		extParser, loaderErr = parser.NewExtParser(ctx, &parser.ExtParserConfig{
			FallbackParser: parser.TextParser{},
		})
		if loaderErr != nil {
			return
		}
		loader, loaderErr = file.NewFileLoader(ctx, &file.FileLoaderConfig{
			UseNameAsID: true,
			Parser:      extParser,
		})
	})
	return loader, loaderErr
}

// ReadTranscript loads an uploaded transcript file as text. Empty files are
// invalid input rather than a silent empty transcript.
func ReadTranscript(ctx context.Context, path string) (string, error) {
	l, err := transcriptLoader(ctx)
	if err != nil {
		return "", fmt.Errorf("init transcript loader: %w", err)
	}
	docs, err := l.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	var b strings.Builder
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(doc.Content)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: transcript file is empty", apperr.ErrInvalidInput)
	}
	return text, nil
}
