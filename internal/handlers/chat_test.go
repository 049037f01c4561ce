package handlers

import (
	"strings"
	"testing"

	"github.com/edutrack/backend/internal/models"
	"github.com/edutrack/backend/internal/services"
)

func TestChat_EnrolledStudentPostsAndReads(t *testing.T) {
	env := setupTestEnv(t)
	tutor, _ := createTestUser(t, env.db, "chat-tutor@test.com", "password123", models.UserRoleTutor)
	student, token := createTestUser(t, env.db, "chat-student@test.com", "password123", models.UserRoleStudent)
	course := createTestCourse(t, env.db, tutor, "Chatty", true)
	enrollStudent(t, env.db, student, course)

	resp := performJSONRequest(t, env.app, "POST", "/api/courses/"+course.ID.String()+"/chat",
		map[string]string{"body": "Hello everyone"}, authHeaders(token))
	assertStatus(t, resp, 201)

	resp = performJSONRequest(t, env.app, "GET", "/api/courses/"+course.ID.String()+"/chat", nil, authHeaders(token))
	assertStatus(t, resp, 200)
	messages := decodeJSONMap(t, resp)["data"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
}

func TestChat_UnenrolledStudentRejected(t *testing.T) {
	env := setupTestEnv(t)
	tutor, _ := createTestUser(t, env.db, "chat-tutor2@test.com", "password123", models.UserRoleTutor)
	_, token := createTestUser(t, env.db, "chat-outsider@test.com", "password123", models.UserRoleStudent)
	course := createTestCourse(t, env.db, tutor, "Members Only", true)

	resp := performJSONRequest(t, env.app, "GET", "/api/courses/"+course.ID.String()+"/chat", nil, authHeaders(token))
	assertStatus(t, resp, 403)
	assertDenyReason(t, decodeJSONMap(t, resp), services.ReasonNotEnrolled)
}

func TestChat_ScriptTagsStripped(t *testing.T) {
	env := setupTestEnv(t)
	tutor, token := createTestUser(t, env.db, "chat-tutor3@test.com", "password123", models.UserRoleTutor)
	course := createTestCourse(t, env.db, tutor, "Sanitized", true)

	resp := performJSONRequest(t, env.app, "POST", "/api/courses/"+course.ID.String()+"/chat",
		map[string]string{"body": `hi <script>alert("x")</script> there`}, authHeaders(token))
	assertStatus(t, resp, 201)

	var message models.ChatMessage
	if err := env.db.First(&message, "course_id = ?", course.ID).Error; err != nil {
		t.Fatalf("failed loading message: %v", err)
	}
	if strings.Contains(message.Body, "<script>") {
		t.Fatalf("script tag survived sanitization: %q", message.Body)
	}
}

func TestAssistant_PersistsBothSides(t *testing.T) {
	env := setupTestEnv(t)
	tutor, _ := createTestUser(t, env.db, "ai-tutor@test.com", "password123", models.UserRoleTutor)
	student, token := createTestUser(t, env.db, "ai-student@test.com", "password123", models.UserRoleStudent)
	course := createTestCourse(t, env.db, tutor, "OOP Fundamentals", true)
	enrollStudent(t, env.db, student, course)

	resp := performJSONRequest(t, env.app, "POST", "/api/courses/"+course.ID.String()+"/assistant",
		map[string]string{"message": "what is encapsulation?"}, authHeaders(token))
	assertStatus(t, resp, 200)

	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	answer := data["answer"].(map[string]any)
	if body, _ := answer["body"].(string); !strings.Contains(body, "Encapsulation") {
		t.Fatalf("expected an encapsulation answer, got %q", body)
	}

	var messages []models.ChatMessage
	env.db.Where("course_id = ?", course.ID).Order("created_at").Find(&messages)
	if len(messages) != 2 {
		t.Fatalf("expected question and answer persisted, found %d rows", len(messages))
	}
	if messages[0].UserID == nil || *messages[0].UserID != student.ID {
		t.Fatal("question should carry the student's id")
	}
	if messages[1].UserID != nil {
		t.Fatal("assistant reply should have a nil user id")
	}
}

func TestAssistant_GroundsSummaryOnLesson(t *testing.T) {
	env := setupTestEnv(t)
	tutor, _ := createTestUser(t, env.db, "sum-tutor@test.com", "password123", models.UserRoleTutor)
	student, token := createTestUser(t, env.db, "sum-student@test.com", "password123", models.UserRoleStudent)
	course := createTestCourse(t, env.db, tutor, "Summaries", true)
	lesson := createTestLesson(t, env.db, course, "Interfaces", 0)
	enrollStudent(t, env.db, student, course)

	resp := performJSONRequest(t, env.app, "POST", "/api/courses/"+course.ID.String()+"/assistant",
		map[string]string{
			"message":  "summarize this lesson",
			"lessonID": lesson.ID.String(),
		}, authHeaders(token))
	assertStatus(t, resp, 200)

	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	answer := data["answer"].(map[string]any)
	if body, _ := answer["body"].(string); !strings.Contains(body, "Interfaces") {
		t.Fatalf("summary should reference the lesson title, got %q", body)
	}
}
