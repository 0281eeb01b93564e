// Package domain holds the core lead pipeline types. No external calls.
package domain

import (
	"fmt"
	"time"

	"chathub_backend/internal/geo"
	"chathub_backend/platform/apperr"
)

// Message roles accepted from the ingestion layer.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of the conversation.
type Message struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// ConversationContext is the immutable input of the pipeline: a transcript
// plus the contextual metadata the ingestion layer collected.
type ConversationContext struct {
	Email       string
	VisitorID   string
	Messages    []Message
	ScrapedData map[string]string
	IP          string
	Coordinate  *geo.Point
}

// Validate checks structural invariants. Empty transcripts and missing
// scraped data are fine; malformed turns are not.
func (c ConversationContext) Validate() error {
	for i, msg := range c.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return apperr.InvalidContext(fmt.Sprintf("message %d has unknown role %q", i, msg.Role))
		}
		if !msg.Timestamp.IsZero() && msg.Timestamp.Unix() < 0 {
			return apperr.InvalidContext(fmt.Sprintf("message %d has negative timestamp", i))
		}
	}

	if c.Coordinate != nil {
		if err := c.Coordinate.Validate(); err != nil {
			return apperr.InvalidContext(err.Error())
		}
	}

	return nil
}

// Identifier returns the stable visitor identifier: the email when present,
// otherwise the client-supplied visitor ID. Empty when neither exists.
func (c ConversationContext) Identifier() string {
	if c.Email != "" {
		return c.Email
	}
	return c.VisitorID
}

// Excerpt returns the last user message truncated for CRM notes.
func (c ConversationContext) Excerpt(maxLen int) string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role != RoleUser {
			continue
		}
		text := c.Messages[i].Text
		if maxLen > 0 && len(text) > maxLen {
			return text[:maxLen]
		}
		return text
	}
	return ""
}
