package services

import (
	"sort"

	"github.com/edutrack/backend/internal/models"
	"github.com/google/uuid"
)

// Denial reason codes surfaced to clients alongside 403 responses.
const (
	ReasonNotEnrolled    = "not_enrolled"
	ReasonSequenceLocked = "sequence_locked"
	ReasonMFARequired    = "mfa_required"
	ReasonWrongRole      = "wrong_role"
)

// Decision is the outcome of a policy check. Denial is a value, not an
// error: callers render the reason, they do not recover from it.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// SortLessons orders lessons by sort_order, breaking ties deterministically
// by id. Duplicate sort_order values are a data-integrity violation, but a
// stable choice of "first" keeps decisions from flapping between requests.
func SortLessons(lessons []models.Lesson) []models.Lesson {
	ordered := make([]models.Lesson, len(lessons))
	copy(ordered, lessons)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SortOrder != ordered[j].SortOrder {
			return ordered[i].SortOrder < ordered[j].SortOrder
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})
	return ordered
}

// CanAccessLesson decides whether a user may view a lesson. It is a pure
// function over an explicit snapshot of entity state; callers fetch that
// state fresh per request and must treat a failed fetch as a denial, never
// as an allow.
//
// Precedence:
//  1. tutors and admins see everything, enrolled or not
//  2. enrolled students unlock strictly sequentially: a lesson is viewable
//     only if it is first in order or every earlier lesson is completed
//  3. everyone else (unenrolled students, anonymous visitors) may preview
//     the first lesson only
//
// The lesson must be a member of lessons; a missing lesson is a not-found
// condition the caller resolves before evaluating policy.
func CanAccessLesson(role models.UserRole, enrolled bool, lessonID uuid.UUID, lessons []models.Lesson, completed map[uuid.UUID]bool) Decision {
	if role == models.UserRoleTutor || role == models.UserRoleAdmin {
		return allow()
	}

	ordered := SortLessons(lessons)

	if role == models.UserRoleStudent && enrolled {
		for _, lesson := range ordered {
			if lesson.ID == lessonID {
				return allow()
			}
			if !completed[lesson.ID] {
				return deny(ReasonSequenceLocked)
			}
		}
		return deny(ReasonSequenceLocked)
	}

	// Preview rule: unenrolled and anonymous visitors may sample the
	// first lesson before committing to enroll.
	if len(ordered) > 0 && ordered[0].ID == lessonID {
		return allow()
	}
	return deny(ReasonNotEnrolled)
}
