package services

import (
	"context"
	"testing"
	"time"

	"github.com/edutrack/backend/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupProgressTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Course{},
		&models.Lesson{},
		&models.Enrollment{},
		&models.LessonCompletion{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}

func TestComputeProgress_Empty(t *testing.T) {
	p := ComputeProgress(nil, nil)
	if p.Total != 0 || p.Completed != 0 || p.IsDone || p.NextLessonID != nil {
		t.Fatalf("empty course should be zeroes and not done, got %+v", p)
	}
}

func TestComputeProgress_IntersectionOnly(t *testing.T) {
	lessons := makeLessons(2)

	// Completions from another course do not count toward this one.
	completed := map[uuid.UUID]bool{
		lessons[0].ID: true,
		uuid.New():    true,
	}
	p := ComputeProgress(lessons, completed)
	if p.Completed != 1 {
		t.Fatalf("expected 1 completed, got %d", p.Completed)
	}
	if p.IsDone {
		t.Fatal("course should not be done")
	}
	if p.NextLessonID == nil || *p.NextLessonID != lessons[1].ID {
		t.Fatalf("next lesson should be the second one, got %v", p.NextLessonID)
	}
}

func TestComputeProgress_NextIsFirstIncomplete(t *testing.T) {
	lessons := makeLessons(3)

	// Lesson 2 completed out of order: next is still lesson 1.
	completed := map[uuid.UUID]bool{lessons[1].ID: true}
	p := ComputeProgress(lessons, completed)
	if p.NextLessonID == nil || *p.NextLessonID != lessons[0].ID {
		t.Fatalf("next lesson should be the first incomplete in order, got %v", p.NextLessonID)
	}
}

func TestComputeProgress_Done(t *testing.T) {
	lessons := makeLessons(2)
	completed := map[uuid.UUID]bool{lessons[0].ID: true, lessons[1].ID: true}
	p := ComputeProgress(lessons, completed)
	if !p.IsDone || p.NextLessonID != nil {
		t.Fatalf("fully completed course should be done with no next lesson, got %+v", p)
	}
}

func TestProgressService_ForCourse(t *testing.T) {
	db := setupProgressTestDB(t)
	service := NewProgressService(db, nil, 5*time.Minute)

	tutor := &models.User{Email: "tutor@test.com", PasswordHash: "hash", FullName: "Tutor", Role: models.UserRoleTutor}
	student := &models.User{Email: "student@test.com", PasswordHash: "hash", FullName: "Student", Role: models.UserRoleStudent}
	if err := db.Create(tutor).Error; err != nil {
		t.Fatalf("failed creating tutor: %v", err)
	}
	if err := db.Create(student).Error; err != nil {
		t.Fatalf("failed creating student: %v", err)
	}

	course := &models.Course{TutorID: tutor.ID, Title: "Go Basics", IsPublished: true}
	other := &models.Course{TutorID: tutor.ID, Title: "Unrelated", IsPublished: true}
	if err := db.Create(course).Error; err != nil {
		t.Fatalf("failed creating course: %v", err)
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("failed creating other course: %v", err)
	}

	var lessons []*models.Lesson
	for i, title := range []string{"Intro", "Types", "Interfaces"} {
		lesson := &models.Lesson{CourseID: course.ID, Title: title, SortOrder: i}
		if err := db.Create(lesson).Error; err != nil {
			t.Fatalf("failed creating lesson: %v", err)
		}
		lessons = append(lessons, lesson)
	}
	otherLesson := &models.Lesson{CourseID: other.ID, Title: "Elsewhere", SortOrder: 0}
	if err := db.Create(otherLesson).Error; err != nil {
		t.Fatalf("failed creating other lesson: %v", err)
	}

	// Completion in the other course must not move progress here.
	for _, lesson := range []*models.Lesson{lessons[0], otherLesson} {
		completion := &models.LessonCompletion{StudentID: student.ID, LessonID: lesson.ID}
		if err := db.Create(completion).Error; err != nil {
			t.Fatalf("failed creating completion: %v", err)
		}
	}

	progress, err := service.ForCourse(context.Background(), student.ID, course.ID)
	if err != nil {
		t.Fatalf("ForCourse failed: %v", err)
	}
	if progress.Total != 3 || progress.Completed != 1 || progress.IsDone {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if progress.NextLessonID == nil || *progress.NextLessonID != lessons[1].ID {
		t.Fatalf("expected next lesson %s, got %v", lessons[1].ID, progress.NextLessonID)
	}
}

func TestProgressService_CachedForCourseWithoutRedis(t *testing.T) {
	db := setupProgressTestDB(t)
	service := NewProgressService(db, nil, 5*time.Minute)

	tutor := &models.User{Email: "tutor2@test.com", PasswordHash: "hash", FullName: "Tutor", Role: models.UserRoleTutor}
	student := &models.User{Email: "student2@test.com", PasswordHash: "hash", FullName: "Student", Role: models.UserRoleStudent}
	if err := db.Create(tutor).Error; err != nil {
		t.Fatalf("failed creating tutor: %v", err)
	}
	if err := db.Create(student).Error; err != nil {
		t.Fatalf("failed creating student: %v", err)
	}
	course := &models.Course{TutorID: tutor.ID, Title: "Caching", IsPublished: true}
	if err := db.Create(course).Error; err != nil {
		t.Fatalf("failed creating course: %v", err)
	}
	lesson := &models.Lesson{CourseID: course.ID, Title: "Only", SortOrder: 0}
	if err := db.Create(lesson).Error; err != nil {
		t.Fatalf("failed creating lesson: %v", err)
	}

	// No redis configured: the call falls through to a recompute.
	progress, err := service.CachedForCourse(context.Background(), student.ID, course.ID)
	if err != nil {
		t.Fatalf("CachedForCourse failed: %v", err)
	}
	if progress.Total != 1 || progress.Completed != 0 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
}
