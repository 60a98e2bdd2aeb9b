// Package authz decides whether an actor may manage or read a course.
//
// Roles, ownership and enrollment are resolved from the relational store on
// every call. Nothing is cached, so a revoked enrollment takes effect on the
// next request.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/store"
)

// Capability is what the actor wants to do with a course.
type Capability int

const (
	// Manage covers uploading, reprocessing and deleting materials.
	Manage Capability = iota
	// Read covers retrieval and chat.
	Read
)

// String returns the capability name used in logs.
func (c Capability) String() string {
	if c == Manage {
		return "manage"
	}
	return "read"
}

// Outcome is the result of an authorization check.
type Outcome int

const (
	// Unauthorized means the actor is absent or unknown.
	Unauthorized Outcome = iota
	// Forbidden means the actor is known but lacks the role or relation.
	Forbidden
	// Allowed means the operation may proceed.
	Allowed
)

// Decision is the tagged result of Gate.Authorize.
type Decision struct {
	// Outcome is the verdict.
	Outcome Outcome
	// Reason explains a denial. Empty when allowed.
	Reason string
}

// Allowed reports whether the decision permits the operation.
func (d Decision) Allowed() bool { return d.Outcome == Allowed }

// Err converts a denial into the matching apperr kind. It returns nil when
// the decision is Allowed.
func (d Decision) Err() error {
	switch d.Outcome {
	case Allowed:
		return nil
	case Forbidden:
		return apperr.Forbidden("authz", d.Reason)
	default:
		return apperr.Unauthorized("authz", d.Reason)
	}
}

// Directory is the subset of the relational store the gate reads.
type Directory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetCourse(ctx context.Context, id string) (*store.Course, error)
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
}

// Gate answers course-level permission questions.
type Gate struct {
	dir Directory
}

// New returns a Gate reading from dir.
func New(dir Directory) *Gate {
	return &Gate{dir: dir}
}

// CanManage reports whether actorID is the professor who owns courseID.
// A missing course is a NotFound error; an empty or unknown actor yields
// false with a nil error.
func (g *Gate) CanManage(ctx context.Context, actorID, courseID string) (bool, error) {
	d, err := g.Authorize(ctx, actorID, courseID, Manage)
	if err != nil {
		return false, err
	}
	return d.Allowed(), nil
}

// CanRead reports whether actorID may read courseID: its owning professor
// or an enrolled student.
func (g *Gate) CanRead(ctx context.Context, actorID, courseID string) (bool, error) {
	d, err := g.Authorize(ctx, actorID, courseID, Read)
	if err != nil {
		return false, err
	}
	return d.Allowed(), nil
}

// Authorize evaluates cap for actorID on courseID. The returned error is
// non-nil only when the course does not exist or the store fails; denials
// are reported through the Decision.
func (g *Gate) Authorize(ctx context.Context, actorID, courseID string, cap Capability) (Decision, error) {
	if actorID == "" {
		return Decision{Outcome: Unauthorized, Reason: "no authenticated actor"}, nil
	}

	course, err := g.dir.GetCourse(ctx, courseID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Decision{}, apperr.NotFound("authz.Authorize", fmt.Sprintf("course %q not found", courseID))
		}
		return Decision{}, fmt.Errorf("authz: get course: %w", err)
	}

	user, err := g.dir.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Decision{Outcome: Unauthorized, Reason: "unknown actor"}, nil
		}
		return Decision{}, fmt.Errorf("authz: get user: %w", err)
	}

	owns := user.Role == store.RoleProfessor && course.ProfessorID == user.ID
	if owns {
		return Decision{Outcome: Allowed}, nil
	}
	if cap == Manage {
		return Decision{Outcome: Forbidden, Reason: "only the owning professor may manage this course"}, nil
	}

	if user.Role != store.RoleStudent {
		return Decision{Outcome: Forbidden, Reason: "not a member of this course"}, nil
	}
	enrolled, err := g.dir.IsEnrolled(ctx, user.ID, courseID)
	if err != nil {
		return Decision{}, fmt.Errorf("authz: enrollment: %w", err)
	}
	if !enrolled {
		return Decision{Outcome: Forbidden, Reason: "not enrolled in this course"}, nil
	}
	return Decision{Outcome: Allowed}, nil
}

// Require is Authorize folded into a single error: nil when allowed,
// otherwise an Unauthorized, Forbidden or NotFound apperr.
func (g *Gate) Require(ctx context.Context, actorID, courseID string, cap Capability) error {
	d, err := g.Authorize(ctx, actorID, courseID, cap)
	if err != nil {
		return err
	}
	return d.Err()
}
