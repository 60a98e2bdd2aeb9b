package ingestion

import (
	"path"
	"strings"
	"unicode"

	"github.com/54b3r/coursechat-go/internal/store"
)

// kindKeywords maps file-name tokens to the material kind they suggest.
// Earlier entries win when a name carries several.
var kindKeywords = []struct {
	kind   store.MaterialKind
	tokens []string
}{
	{store.KindSyllabus, []string{"syllabus", "syllabi", "outline", "schedule"}},
	{store.KindAssignment, []string{"assignment", "homework", "hw", "problemset", "pset", "exercise", "exercises", "project", "lab"}},
	{store.KindTranscript, []string{"transcript", "transcription", "captions", "recording"}},
	{store.KindSlides, []string{"slides", "slide", "deck", "presentation", "lecture"}},
	{store.KindHandout, []string{"handout", "worksheet", "cheatsheet", "reference", "reading"}},
	{store.KindNotes, []string{"notes", "note", "summary", "study"}},
}

// extensionKinds is the fallback when no token matches.
var extensionKinds = map[string]store.MaterialKind{
	".ppt":  store.KindSlides,
	".pptx": store.KindSlides,
	".key":  store.KindSlides,
	".vtt":  store.KindTranscript,
	".srt":  store.KindTranscript,
}

// InferKind returns a best-effort material kind for an uploaded file name.
// Uploader-supplied kinds take precedence; this is the fallback when none
// is given. Unknown names map to KindOther.
//
//	"CS101_Syllabus_Fall.pdf"  → syllabus
//	"week3-lecture-slides.pdf" → slides
//	"hw2.txt"                  → assignment
func InferKind(fileName string) store.MaterialKind {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	tokens := nameTokens(strings.TrimSuffix(base, path.Ext(base)))

	for _, kk := range kindKeywords {
		for _, want := range kk.tokens {
			for _, tok := range tokens {
				if tok == want {
					return kk.kind
				}
			}
		}
	}
	if k, ok := extensionKinds[ext]; ok {
		return k
	}
	return store.KindOther
}

// nameTokens splits a file name into lowercase alphabetic runs, so
// "HW2_week-3" yields [hw week].
func nameTokens(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
