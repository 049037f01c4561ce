package services

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// AssistantService is the rule-based tutor assistant. It matches keyword
// intents against the student's message and answers with prepared material,
// optionally grounded on the current lesson's body. No external model is
// involved.
type AssistantService struct{}

func NewAssistantService() *AssistantService {
	return &AssistantService{}
}

type intent struct {
	keywords []string
	respond  func(req AssistantRequest) string
}

type AssistantRequest struct {
	CourseTitle string
	LessonTitle string
	LessonBody  string
	Message     string
}

// Respond picks the first matching intent; unmatched messages get a
// redirect back to the course material.
func (s *AssistantService) Respond(req AssistantRequest) string {
	message := strings.ToLower(strings.TrimSpace(req.Message))

	for _, in := range intents {
		for _, keyword := range in.keywords {
			if strings.Contains(message, keyword) {
				return in.respond(req)
			}
		}
	}

	return fmt.Sprintf(
		"I can help with questions about %q. Try asking about a concept from the current lesson, or ask me to summarize it.",
		req.CourseTitle,
	)
}

var intents = []intent{
	{
		keywords: []string{"summary", "summarize", "resumen"},
		respond: func(req AssistantRequest) string {
			if strings.TrimSpace(req.LessonBody) == "" {
				return fmt.Sprintf("The lesson %q has no written material to summarize yet. Ask your tutor to add notes.", req.LessonTitle)
			}
			return fmt.Sprintf("**Summary of %q**\n\n%s", req.LessonTitle, truncate(req.LessonBody, 600))
		},
	},
	{
		keywords: []string{"abstraction", "abstract"},
		respond: func(AssistantRequest) string {
			return "**Abstraction** hides complex implementation detail and exposes only the essential behavior of an object. " +
				"Think of a vehicle: you care that it can accelerate and brake, not how the engine works internally. " +
				"It reduces complexity, eases maintenance, and promotes reuse."
		},
	},
	{
		keywords: []string{"encapsulation", "private", "public"},
		respond: func(AssistantRequest) string {
			return "**Encapsulation** restricts direct access to an object's internal state and mediates it through methods. " +
				"Access modifiers (private, protected, public) are the usual mechanism: keep fields private and expose " +
				"operations that preserve the object's invariants."
		},
	},
	{
		keywords: []string{"inheritance", "inherit", "extends"},
		respond: func(AssistantRequest) string {
			return "**Inheritance** lets a child class derive from a parent, reusing its fields and behavior while adding " +
				"or overriding its own. It gives you code reuse and a logical hierarchy, but prefer shallow hierarchies " +
				"and composition when the relationship is not clearly \"is-a\"."
		},
	},
	{
		keywords: []string{"polymorphism", "override", "virtual"},
		respond: func(AssistantRequest) string {
			return "**Polymorphism** lets code operate on values of different concrete types through a common interface: " +
				"the same call resolves to different behavior depending on the runtime type. Method overriding is the " +
				"classic example."
		},
	},
	{
		keywords: []string{"hello", "hi ", "hey", "hola"},
		respond: func(req AssistantRequest) string {
			return fmt.Sprintf("Hi! I'm the tutor assistant for %q. Ask me about any concept in the lessons, or ask for a summary of the one you're reading.", req.CourseTitle)
		},
	},
}

// truncate cuts text at a rune boundary at or below max bytes.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
