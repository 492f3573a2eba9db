package knowledge

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

type readerFunc func(path string) (string, error)

// readers maps a lower-case extension to its text extractor. Office formats
// have no reader in this service and are skipped.
var readers = map[string]readerFunc{
	".txt":  readText,
	".md":   readText,
	".csv":  readText,
	".json": readText,
	".log":  readText,
	".html": readText,
	".xml":  readText,
	".yaml": readText,
	".yml":  readText,
	".pdf":  readPDF,
}

type Document struct {
	Source  string
	Content string
}

func IsSupported(filename string) bool {
	_, ok := readers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

func loadDocument(path string) (*Document, error) {
	read, ok := readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	content, err := read(path)
	if err != nil {
		return nil, err
	}

	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("file is empty")
	}

	return &Document{Source: filepath.Base(path), Content: content}, nil
}

func readText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// readPDF extracts the plain text of every page, in page order.
func readPDF(path string) (text string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	return buf.String(), nil
}
