package handlers

import (
	"testing"

	"github.com/edutrack/backend/internal/models"
)

func TestRegisterAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, "POST", "/api/auth/register", map[string]string{
		"email":    "new@test.com",
		"password": "password123",
		"fullName": "New Student",
		"role":     "student",
	}, nil)
	assertStatus(t, resp, 201)

	resp = performJSONRequest(t, env.app, "POST", "/api/auth/login", map[string]string{
		"email":    "new@test.com",
		"password": "password123",
	}, nil)
	assertStatus(t, resp, 200)

	data := decodeJSONMap(t, resp)["data"].(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("login should return a token")
	}

	resp = performJSONRequest(t, env.app, "GET", "/api/auth/me", nil, authHeaders(token))
	assertStatus(t, resp, 200)
	me := decodeJSONMap(t, resp)["data"].(map[string]any)
	if me["email"] != "new@test.com" {
		t.Fatalf("unexpected user payload: %+v", me)
	}
}

func TestRegister_AdminRoleRejected(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, "POST", "/api/auth/register", map[string]string{
		"email":    "sneaky@test.com",
		"password": "password123",
		"fullName": "Sneaky",
		"role":     "admin",
	}, nil)
	assertStatus(t, resp, 400)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "taken@test.com", "password123", models.UserRoleStudent)

	resp := performJSONRequest(t, env.app, "POST", "/api/auth/register", map[string]string{
		"email":    "taken@test.com",
		"password": "password123",
		"fullName": "Copy",
		"role":     "student",
	}, nil)
	assertStatus(t, resp, 409)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "locked@test.com", "password123", models.UserRoleStudent)

	resp := performJSONRequest(t, env.app, "POST", "/api/auth/login", map[string]string{
		"email":    "locked@test.com",
		"password": "not-the-password",
	}, nil)
	assertStatus(t, resp, 401)
}
