package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Progress is the derived completion state for one student in one course.
type Progress struct {
	Total        int        `json:"total"`
	Completed    int        `json:"completed"`
	IsDone       bool       `json:"isDone"`
	NextLessonID *uuid.UUID `json:"nextLessonID"`
}

// ComputeProgress derives progress from raw records. Completions for lessons
// outside the course are ignored: Completed is an intersection, not a count
// of everything the student ever finished. Idempotent by construction.
func ComputeProgress(lessons []models.Lesson, completed map[uuid.UUID]bool) Progress {
	ordered := SortLessons(lessons)

	p := Progress{Total: len(ordered)}
	for _, lesson := range ordered {
		if completed[lesson.ID] {
			p.Completed++
		} else if p.NextLessonID == nil {
			id := lesson.ID
			p.NextLessonID = &id
		}
	}

	p.IsDone = p.Total > 0 && p.Completed == p.Total
	return p
}

// ProgressService recomputes progress from the append-only completion
// records on every read. The redis entry is an advisory cache only: it is
// refreshed after each recompute and compared for drift, but no grant
// (lesson unlock, certificate) is ever based on it.
type ProgressService struct {
	DB    *gorm.DB
	Redis *redis.Client
	TTL   time.Duration
}

func NewProgressService(db *gorm.DB, redisClient *redis.Client, ttl time.Duration) *ProgressService {
	return &ProgressService{DB: db, Redis: redisClient, TTL: ttl}
}

// CompletedSet loads the ids of every lesson the student has completed,
// across all courses. ComputeProgress intersects it with a course's lessons.
func (s *ProgressService) CompletedSet(ctx context.Context, studentID uuid.UUID) (map[uuid.UUID]bool, error) {
	var completions []models.LessonCompletion
	if err := s.DB.WithContext(ctx).Where("student_id = ?", studentID).Find(&completions).Error; err != nil {
		return nil, err
	}

	set := make(map[uuid.UUID]bool, len(completions))
	for _, completion := range completions {
		set[completion.LessonID] = true
	}
	return set, nil
}

// ForCourse recomputes the student's progress in a course from raw records.
func (s *ProgressService) ForCourse(ctx context.Context, studentID, courseID uuid.UUID) (Progress, error) {
	var lessons []models.Lesson
	if err := s.DB.WithContext(ctx).Where("course_id = ?", courseID).Find(&lessons).Error; err != nil {
		return Progress{}, err
	}

	completed, err := s.CompletedSet(ctx, studentID)
	if err != nil {
		return Progress{}, err
	}

	progress := ComputeProgress(lessons, completed)
	s.refreshCache(ctx, studentID, courseID, progress)
	return progress, nil
}

func progressCacheKey(studentID, courseID uuid.UUID) string {
	return fmt.Sprintf("progress:%s:%s", studentID, courseID)
}

func (s *ProgressService) refreshCache(ctx context.Context, studentID, courseID uuid.UUID, fresh Progress) {
	if s.Redis == nil {
		return
	}

	key := progressCacheKey(studentID, courseID)

	if raw, err := s.Redis.Get(ctx, key).Result(); err == nil {
		var cached Progress
		if json.Unmarshal([]byte(raw), &cached) == nil && cached.Completed != fresh.Completed {
			logger.Warn("progress_cache_drift", map[string]interface{}{
				"student_id":       studentID.String(),
				"course_id":        courseID.String(),
				"cached_completed": cached.Completed,
				"fresh_completed":  fresh.Completed,
			})
		}
	}

	payload, err := json.Marshal(fresh)
	if err != nil {
		return
	}
	if err := s.Redis.Set(ctx, key, payload, s.TTL).Err(); err != nil {
		logger.Warn("progress_cache_refresh_failed", map[string]interface{}{
			"student_id": studentID.String(),
			"course_id":  courseID.String(),
			"error":      err.Error(),
		})
	}
}

// CachedForCourse serves listing screens that tolerate staleness. It falls
// back to a full recompute on any cache miss or redis error.
func (s *ProgressService) CachedForCourse(ctx context.Context, studentID, courseID uuid.UUID) (Progress, error) {
	if s.Redis != nil {
		raw, err := s.Redis.Get(ctx, progressCacheKey(studentID, courseID)).Result()
		if err == nil {
			var cached Progress
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return cached, nil
			}
		}
	}
	return s.ForCourse(ctx, studentID, courseID)
}
