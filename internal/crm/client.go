// Package crm pushes qualified leads to the external CRM with idempotent
// upserts, retry with backoff, and dead-lettering.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chathub_backend/internal/leads/domain"
	"chathub_backend/platform/config"
	"chathub_backend/platform/logger"
)

// Failure classifies a CRM call that did not land. Transient failures are
// retryable (network errors, 429, 5xx); everything else is permanent.
type Failure struct {
	StatusCode int
	Transient  bool
	Message    string
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("crm: status %d: %s", f.StatusCode, f.Message)
	}
	return fmt.Sprintf("crm: %s", f.Message)
}

// IsTransient reports whether err is a retryable CRM failure. Errors that are
// not Failures (network, context) count as transient.
func IsTransient(err error) bool {
	if f, ok := err.(*Failure); ok {
		return f.Transient
	}
	return err != nil
}

func transient(status int, msg string) *Failure {
	return &Failure{StatusCode: status, Transient: true, Message: msg}
}

func permanent(status int, msg string) *Failure {
	return &Failure{StatusCode: status, Transient: false, Message: msg}
}

// Client talks to a HubSpot-shaped contacts API. All requests pass through a
// shared rate limiter so retries and concurrent workers stay within the
// provider's request budget.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	log        *logger.Logger
}

func NewClient(cfg config.CRMConfig, log *logger.Logger) *Client {
	rps := cfg.GetCRMRequestsPerSecond()
	if rps <= 0 {
		rps = 8
	}
	burst := cfg.GetCRMRequestBurst()
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(cfg.GetCRMBaseURL(), "/"),
		token:      cfg.GetCRMAccessToken(),
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        log.WithComponent("crm_client"),
	}
}

type contactProperties struct {
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"firstname,omitempty"`
	LastName     string `json:"lastname,omitempty"`
	LeadScore    string `json:"lead_score"`
	LeadTier     string `json:"lead_tier"`
	GeoArea      string `json:"geo_area,omitempty"`
	GeoMethod    string `json:"geo_method"`
	VisitorID    string `json:"visitor_id"`
	LastExcerpt  string `json:"last_conversation_excerpt,omitempty"`
	ScoreVersion string `json:"score_version,omitempty"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchResponse struct {
	Total   int `json:"total"`
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

type contactRequest struct {
	Properties contactProperties `json:"properties"`
}

type contactResponse struct {
	ID string `json:"id"`
}

func properties(record domain.LeadRecord, scoreVersion string) contactProperties {
	return contactProperties{
		Email:        record.Email,
		FirstName:    record.FirstName,
		LastName:     record.LastName,
		LeadScore:    fmt.Sprintf("%.1f", record.Score),
		LeadTier:     string(record.Tier),
		GeoArea:      record.Enrichment.Area,
		GeoMethod:    record.Enrichment.Method,
		VisitorID:    record.VisitorIdentifier,
		LastExcerpt:  record.Excerpt,
		ScoreVersion: scoreVersion,
	}
}

// UpsertContact creates or updates the CRM contact for the lead and returns
// the remote contact ID. The lookup key is the lead's email when present,
// otherwise the visitor identifier property, so replaying the same lead
// converges on one remote contact.
func (c *Client) UpsertContact(ctx context.Context, record domain.LeadRecord, scoreVersion string) (string, error) {
	contactID, err := c.findContact(ctx, record)
	if err != nil {
		return "", err
	}

	props := properties(record, scoreVersion)
	if contactID != "" {
		return contactID, c.updateContact(ctx, contactID, props)
	}
	return c.createContact(ctx, props)
}

func (c *Client) findContact(ctx context.Context, record domain.LeadRecord) (string, error) {
	property, value := "email", record.Email
	if value == "" {
		property, value = "visitor_id", record.VisitorIdentifier
	}

	body := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{
			PropertyName: property,
			Operator:     "EQ",
			Value:        value,
		}}}},
		Limit: 1,
	}

	var result searchResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", body, &result); err != nil {
		return "", err
	}
	if len(result.Results) == 0 {
		return "", nil
	}
	return result.Results[0].ID, nil
}

func (c *Client) createContact(ctx context.Context, props contactProperties) (string, error) {
	var result contactResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", contactRequest{Properties: props}, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (c *Client) updateContact(ctx context.Context, contactID string, props contactProperties) error {
	path := "/crm/v3/objects/contacts/" + contactID
	return c.do(ctx, http.MethodPatch, path, contactRequest{Properties: props}, nil)
}

type noteRequest struct {
	Properties struct {
		Body      string `json:"hs_note_body"`
		Timestamp string `json:"hs_timestamp"`
	} `json:"properties"`
	Associations []noteAssociation `json:"associations"`
}

type noteAssociation struct {
	To struct {
		ID string `json:"id"`
	} `json:"to"`
	Types []struct {
		Category string `json:"associationCategory"`
		TypeID   int    `json:"associationTypeId"`
	} `json:"types"`
}

// LogActivity attaches a conversation-summary note to the contact. Failures
// are reported but callers treat them as non-fatal: the contact upsert is the
// synchronization contract, the note is context for sales.
func (c *Client) LogActivity(ctx context.Context, contactID string, record domain.LeadRecord) error {
	if record.Excerpt == "" {
		return nil
	}

	var body noteRequest
	body.Properties.Body = fmt.Sprintf("Chat lead (%s, score %.1f)\n\n%s", record.Tier, record.Score, record.Excerpt)
	body.Properties.Timestamp = record.CreatedAt.UTC().Format(time.RFC3339)

	assoc := noteAssociation{}
	assoc.To.ID = contactID
	assoc.Types = []struct {
		Category string `json:"associationCategory"`
		TypeID   int    `json:"associationTypeId"`
	}{{Category: "HUBSPOT_DEFINED", TypeID: 202}} // note-to-contact

	body.Associations = []noteAssociation{assoc}

	return c.do(ctx, http.MethodPost, "/crm/v3/objects/notes", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transient(0, err.Error())
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return permanent(0, "encode request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return permanent(0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transient(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(detail))
		c.log.Warn("crm request failed", "method", method, "path", path, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return transient(resp.StatusCode, msg)
		}
		return permanent(resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return transient(resp.StatusCode, "decode response: "+err.Error())
		}
	}
	return nil
}
