package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/pkg/logger"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrCourseNotCompleted is returned when issuance is requested before every
// lesson in the course is completed.
var ErrCourseNotCompleted = errors.New("course not completed")

// ArtifactStore is the slice of object storage the certificate service
// needs. Satisfied by storage.MinIOClient.
type ArtifactStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	PresignedGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// CertificateService issues course-completion diplomas. Eligibility is
// recomputed from raw completion records at the point of issuance; a
// client-asserted "done" flag or a cached counter is never trusted.
type CertificateService struct {
	DB       *gorm.DB
	Storage  ArtifactStore
	Progress *ProgressService
}

func NewCertificateService(db *gorm.DB, store ArtifactStore, progress *ProgressService) *CertificateService {
	return &CertificateService{DB: db, Storage: store, Progress: progress}
}

// IsEligible reports whether the student has completed the whole course.
func IsEligible(progress Progress) bool {
	return progress.IsDone
}

// Issue re-verifies completion server-side and then renders, stores, and
// records the diploma. Re-issuing returns the existing record. The returned
// URL is presigned and short-lived.
func (s *CertificateService) Issue(ctx context.Context, student *models.User, courseID uuid.UUID) (*models.Diploma, string, error) {
	var course models.Course
	if err := s.DB.WithContext(ctx).First(&course, "id = ?", courseID).Error; err != nil {
		return nil, "", err
	}

	progress, err := s.Progress.ForCourse(ctx, student.ID, courseID)
	if err != nil {
		return nil, "", err
	}
	if !IsEligible(progress) {
		return nil, "", fmt.Errorf("%w: %d of %d lessons", ErrCourseNotCompleted, progress.Completed, progress.Total)
	}

	var existing models.Diploma
	err = s.DB.WithContext(ctx).First(&existing, "course_id = ? AND student_id = ?", courseID, student.ID).Error
	if err == nil {
		url, urlErr := s.presign(ctx, existing.StoragePath)
		return &existing, url, urlErr
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	var tutor models.User
	tutorName := "Tutor"
	if err := s.DB.WithContext(ctx).First(&tutor, "id = ?", course.TutorID).Error; err == nil {
		tutorName = tutor.FullName
	}

	issuedAt := time.Now()
	pdfBytes, err := renderDiplomaPDF(student.FullName, course.Title, tutorName, issuedAt)
	if err != nil {
		return nil, "", err
	}

	objectName := fmt.Sprintf("diplomas/%s/%s.pdf", student.ID, courseID)
	if s.Storage != nil {
		if err := s.Storage.Upload(ctx, objectName, bytes.NewReader(pdfBytes), int64(len(pdfBytes)), "application/pdf"); err != nil {
			return nil, "", err
		}
	}

	diploma := models.Diploma{
		CourseID:    courseID,
		StudentID:   student.ID,
		StoragePath: objectName,
		IssuedAt:    issuedAt,
	}
	if err := s.DB.WithContext(ctx).Create(&diploma).Error; err != nil {
		return nil, "", err
	}

	logger.InfoWithUser(student.ID.String(), "certificate_issued", map[string]interface{}{
		"course_id":  courseID.String(),
		"diploma_id": diploma.ID.String(),
	})

	url, err := s.presign(ctx, objectName)
	return &diploma, url, err
}

func (s *CertificateService) presign(ctx context.Context, objectName string) (string, error) {
	if s.Storage == nil {
		return "", nil
	}
	return s.Storage.PresignedGetURL(ctx, objectName, 10*time.Minute)
}

func renderDiplomaPDF(studentName, courseTitle, tutorName string, issuedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 34)
	pdf.CellFormat(0, 40, "Certificate of Completion", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 16)
	pdf.CellFormat(0, 12, "This certifies that", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 26)
	pdf.CellFormat(0, 18, studentName, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 16)
	pdf.CellFormat(0, 12, "has successfully completed the course", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 16, courseTitle, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(0, 10, fmt.Sprintf("Tutor: %s", tutorName), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 10, issuedAt.Format("January 2, 2006"), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
