package store

import "time"

// Role identifies what a user may do in the system.
type Role string

const (
	// RoleProfessor owns courses and uploads materials.
	RoleProfessor Role = "professor"
	// RoleStudent enrolls in courses and asks questions.
	RoleStudent Role = "student"
)

// MaterialKind classifies an uploaded course document.
type MaterialKind string

// Material kinds accepted on upload.
const (
	KindSyllabus   MaterialKind = "syllabus"
	KindNotes      MaterialKind = "notes"
	KindSlides     MaterialKind = "slides"
	KindTranscript MaterialKind = "transcript"
	KindHandout    MaterialKind = "handout"
	KindAssignment MaterialKind = "assignment"
	KindOther      MaterialKind = "other"
)

// materialKinds is the closed set of valid kinds.
var materialKinds = map[MaterialKind]bool{
	KindSyllabus:   true,
	KindNotes:      true,
	KindSlides:     true,
	KindTranscript: true,
	KindHandout:    true,
	KindAssignment: true,
	KindOther:      true,
}

// Valid reports whether k is one of the enumerated kinds.
func (k MaterialKind) Valid() bool { return materialKinds[k] }

// ParseMaterialKind returns the kind named by s, or KindOther when s is
// empty or unknown.
func ParseMaterialKind(s string) MaterialKind {
	k := MaterialKind(s)
	if k.Valid() {
		return k
	}
	return KindOther
}

// MaterialStatus is the durable ingestion state of a material.
type MaterialStatus string

// Ingestion states. Processed and Failed are terminal.
const (
	StatusUploaded   MaterialStatus = "uploaded"
	StatusChunking   MaterialStatus = "chunking"
	StatusEmbedding  MaterialStatus = "embedding"
	StatusPersisting MaterialStatus = "persisting"
	StatusProcessed  MaterialStatus = "processed"
	StatusFailed     MaterialStatus = "failed"
)

// Terminal reports whether no further ingestion work is pending.
func (s MaterialStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// User is an identity known to the relational store.
type User struct {
	// ID is the identity provider subject.
	ID string
	// Email is informational only.
	Email string
	// Role is resolved from this row on every request, never from the client.
	Role Role
	// CreatedAt is when the user row was created.
	CreatedAt time.Time
}

// Course is owned by exactly one professor.
type Course struct {
	// ID is the course identifier.
	ID string
	// ProfessorID is the owning professor's user ID.
	ProfessorID string
	// Title is the display name of the course.
	Title string
	// CreatedAt is when the course was created.
	CreatedAt time.Time
}

// Material is an uploaded course document and its ingestion state.
type Material struct {
	// ID is the material identifier. Chunk IDs are derived from it.
	ID string
	// CourseID is the owning course.
	CourseID string
	// FileName is the original upload filename.
	FileName string
	// StoragePath is the object-store key holding the raw content.
	StoragePath string
	// Kind classifies the document.
	Kind MaterialKind
	// Processed is true once an ingestion run completed.
	Processed bool
	// ChunkCount is the number of chunks persisted by the last ingestion run.
	ChunkCount int
	// Status is the durable ingestion state.
	Status MaterialStatus
	// LastError is the failure reason when Status is failed, or a partial
	// ingestion summary when some chunks could not be embedded.
	LastError string
	// CreatedAt is when the material was uploaded.
	CreatedAt time.Time
	// UpdatedAt is when the material row last changed.
	UpdatedAt time.Time
}

// QueryRecord is one answered question. Append-only.
type QueryRecord struct {
	// ID is the record identifier.
	ID string
	// StudentID is the asking user (weak reference).
	StudentID string
	// CourseID is the course the question was scoped to (weak reference).
	CourseID string
	// Question is the text the student asked.
	Question string
	// Answer is the text returned to the student.
	Answer string
	// CreatedAt is when the answer was produced.
	CreatedAt time.Time
}
