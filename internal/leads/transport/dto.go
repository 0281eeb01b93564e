// Package transport defines the wire types of the lead ingestion API.
package transport

import (
	"regexp"
	"time"

	validatorlib "github.com/go-playground/validator/v10"

	"chathub_backend/internal/geo"
	"chathub_backend/internal/leads/domain"
	"chathub_backend/platform/validator"
)

// visitorIDPattern accepts the anonymous IDs chat widgets mint: alphanumeric
// with separators, no whitespace or control characters.
var visitorIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// RegisterCustomValidations adds the domain validation rules the wire DTOs
// reference.
func RegisterCustomValidations(val *validator.Validator) error {
	return val.RegisterValidation("visitorid", func(fl validatorlib.FieldLevel) bool {
		return visitorIDPattern.MatchString(fl.Field().String())
	})
}

// MessageDTO is one conversation turn as sent by the chat frontend.
type MessageDTO struct {
	Role      string     `json:"role" validate:"required,oneof=user assistant system"`
	Text      string     `json:"text" validate:"required"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// CoordinateDTO is an explicit visitor coordinate, e.g. from browser
// geolocation consent.
type CoordinateDTO struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// ConvertChatRequest carries one finished conversation plus the metadata the
// frontend collected about the visitor.
type ConvertChatRequest struct {
	Email       string            `json:"email,omitempty" validate:"omitempty,email"`
	VisitorID   string            `json:"visitorId,omitempty" validate:"omitempty,visitorid,max=128"`
	Messages    []MessageDTO      `json:"messages" validate:"required,min=1,dive"`
	ScrapedData map[string]string `json:"scrapedData,omitempty"`
	IP          string            `json:"ip,omitempty" validate:"omitempty,ip"`
	Coordinate  *CoordinateDTO    `json:"coordinate,omitempty"`
}

// ToContext converts the request into the pipeline input. clientIP is the
// connection peer, used when the frontend did not forward an address.
func (r ConvertChatRequest) ToContext(clientIP string) domain.ConversationContext {
	messages := make([]domain.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msg := domain.Message{Role: m.Role, Text: m.Text}
		if m.Timestamp != nil {
			msg.Timestamp = *m.Timestamp
		}
		messages = append(messages, msg)
	}

	ip := r.IP
	if ip == "" {
		ip = clientIP
	}

	ctx := domain.ConversationContext{
		Email:       r.Email,
		VisitorID:   r.VisitorID,
		Messages:    messages,
		ScrapedData: r.ScrapedData,
		IP:          ip,
	}
	if r.Coordinate != nil {
		ctx.Coordinate = &geo.Point{
			Latitude:  r.Coordinate.Latitude,
			Longitude: r.Coordinate.Longitude,
		}
	}
	return ctx
}

// EnrichmentResponse mirrors geo.Enrichment on the wire.
type EnrichmentResponse struct {
	Method     string   `json:"method"`
	Area       string   `json:"area,omitempty"`
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// LeadResponse is the API view of a qualified lead.
type LeadResponse struct {
	ID                string             `json:"id"`
	VisitorIdentifier string             `json:"visitorIdentifier"`
	Email             string             `json:"email,omitempty"`
	FirstName         string             `json:"firstName,omitempty"`
	LastName          string             `json:"lastName,omitempty"`
	Score             float64            `json:"score"`
	Tier              string             `json:"tier"`
	Enrichment        EnrichmentResponse `json:"enrichment"`
	Factors           map[string]float64 `json:"factors"`
	CreatedAt         time.Time          `json:"createdAt"`
}

// ToLeadResponse converts a lead record for the API.
func ToLeadResponse(record domain.LeadRecord) LeadResponse {
	return LeadResponse{
		ID:                record.ID.String(),
		VisitorIdentifier: record.VisitorIdentifier,
		Email:             record.Email,
		FirstName:         record.FirstName,
		LastName:          record.LastName,
		Score:             record.Score,
		Tier:              string(record.Tier),
		Enrichment: EnrichmentResponse{
			Method:     record.Enrichment.Method,
			Area:       record.Enrichment.Area,
			DistanceKm: record.Enrichment.DistanceKm,
		},
		Factors:   record.Vector.Factors(),
		CreatedAt: record.CreatedAt,
	}
}
