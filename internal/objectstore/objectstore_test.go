package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

func TestLocalStore_PutGetDelete(t *testing.T) {
	t.Parallel()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	key := Key("c1", "m1", "syllabus.txt")

	if err := s.Put(ctx, key, strings.NewReader("Week 1: intro"), ContentType(key)); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "Week 1: intro" {
		t.Errorf("got %q", b)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotExist) {
		t.Errorf("want ErrNotExist after delete, got %v", err)
	}
	if err := s.Delete(ctx, key); !errors.Is(err, ErrNotExist) {
		t.Errorf("want ErrNotExist on second delete, got %v", err)
	}
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "../outside.txt", "a/../../x"} {
		if err := s.Put(context.Background(), key, strings.NewReader("x"), ""); err == nil {
			t.Errorf("key %q: expected error", key)
		}
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want string
	}{
		{"notes.md", "c/m/notes.md"},
		{"dir/sub/notes.md", "c/m/notes.md"},
		{`C:\Users\prof\lecture.pdf`, "c/m/lecture.pdf"},
		{"", "c/m/upload"},
	}
	for _, tc := range tests {
		if got := Key("c", "m", tc.name); got != tc.want {
			t.Errorf("Key(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestGetText(t *testing.T) {
	t.Parallel()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, "c/m/a.txt", strings.NewReader("Höhere Mathematik"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := GetText(ctx, s, "c/m/a.txt")
	if err != nil {
		t.Fatalf("get text: %v", err)
	}
	if got != "Höhere Mathematik" {
		t.Errorf("got %q", got)
	}

	if err := s.Put(ctx, "c/m/b.bin", strings.NewReader("\xff\xfe\x00"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := GetText(ctx, s, "c/m/b.bin"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("invalid utf-8: want Validation, got %v", err)
	}

	if _, err := GetText(ctx, s, "c/m/missing.txt"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing: want NotFound, got %v", err)
	}

	if err := s.Put(ctx, "c/m/broken.pdf", strings.NewReader("not really a pdf"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := GetText(ctx, s, "c/m/broken.pdf"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("broken pdf: want Validation, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()
	if got := ContentType("x/Lecture.PDF"); got != "application/pdf" {
		t.Errorf("pdf: %q", got)
	}
	if got := ContentType("x/data"); got != "application/octet-stream" {
		t.Errorf("default: %q", got)
	}
}
