// Package objectstore holds raw material bytes. Uploads are written with Put
// and the ingestion pipeline reads decoded text back with GetText.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// ErrNotExist is returned by Get and Delete when the key has no object.
var ErrNotExist = errors.New("objectstore: object does not exist")

// maxObjectSize bounds how much of an object GetText will read.
const maxObjectSize = 64 << 20

// Store is a byte-addressable object store.
type Store interface {
	// Put writes r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Get opens the object at key for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}

// Key builds the storage path of an uploaded material: {courseID}/{materialID}/{fileName}.
func Key(courseID, materialID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return courseID + "/" + materialID + "/" + name
}

// ContentType returns the MIME type for key's extension, or
// application/octet-stream.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// GetText reads the object at key and returns its text. PDFs are decoded to
// plain text; any other object must be valid UTF-8.
func GetText(ctx context.Context, s Store, key string) (string, error) {
	const op = "objectstore.GetText"
	rc, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return "", apperr.NotFound(op, fmt.Sprintf("object %q not found", key))
		}
		return "", fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxObjectSize+1))
	if err != nil {
		return "", fmt.Errorf("objectstore: read %s: %w", key, err)
	}
	if len(data) > maxObjectSize {
		return "", apperr.Validation(op, fmt.Sprintf("object %q exceeds %d bytes", key, maxObjectSize))
	}

	if strings.EqualFold(path.Ext(key), ".pdf") || bytes.HasPrefix(data, []byte("%PDF-")) {
		return pdfText(data)
	}
	if !utf8.Valid(data) {
		return "", apperr.Validation(op, fmt.Sprintf("object %q is not UTF-8 text", key))
	}
	return string(data), nil
}

// pdfText extracts the plain text of a PDF document. The decoder panics on
// some malformed inputs; those surface as validation errors.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", apperr.Validation("objectstore.pdfText", fmt.Sprintf("malformed pdf: %v", p))
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "objectstore.pdfText", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "objectstore.pdfText", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("objectstore: read pdf text: %w", err)
	}
	return buf.String(), nil
}
