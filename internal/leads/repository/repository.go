// Package repository persists leads and their CRM synchronization history.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chathub_backend/internal/geo"
	"chathub_backend/internal/leads/domain"
)

var ErrNotFound = errors.New("lead not found")

// Sync states persisted per lead. The state machine is
// pending -> attempting -> {synced | dead_lettered | failed_permanent}.
const (
	SyncStatePending         = "pending"
	SyncStateAttempting      = "attempting"
	SyncStateSynced          = "synced"
	SyncStateDeadLettered    = "dead_lettered"
	SyncStateFailedPermanent = "failed_permanent"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or replaces the lead for a visitor identifier.
// Last write wins on all mutable fields; the row ID of an existing lead is
// preserved so sync history stays attached.
func (r *Repository) Upsert(ctx context.Context, record domain.LeadRecord) (domain.LeadRecord, error) {
	factors, err := json.Marshal(record.Vector.Factors())
	if err != nil {
		return domain.LeadRecord{}, err
	}

	var lat, lon *float64
	if record.Enrichment.Point != nil {
		lat = &record.Enrichment.Point.Latitude
		lon = &record.Enrichment.Point.Longitude
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			id, visitor_identifier, email, first_name, last_name,
			score, tier, geo_method, geo_area, geo_distance_km, latitude, longitude,
			factors, excerpt, sync_state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (visitor_identifier) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			score = EXCLUDED.score,
			tier = EXCLUDED.tier,
			geo_method = EXCLUDED.geo_method,
			geo_area = EXCLUDED.geo_area,
			geo_distance_km = EXCLUDED.geo_distance_km,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			factors = EXCLUDED.factors,
			excerpt = EXCLUDED.excerpt,
			sync_state = $15,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		record.ID, record.VisitorIdentifier, nullable(record.Email), nullable(record.FirstName), nullable(record.LastName),
		record.Score, string(record.Tier), record.Enrichment.Method, nullable(record.Enrichment.Area), record.Enrichment.DistanceKm,
		lat, lon, factors, nullable(record.Excerpt), SyncStatePending, record.CreatedAt,
	)

	stored := record
	if err := row.Scan(&stored.ID, &stored.CreatedAt); err != nil {
		return domain.LeadRecord{}, err
	}
	return stored, nil
}

// GetByID loads one lead.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.LeadRecord, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByIdentifier loads the lead for a visitor identifier.
func (r *Repository) GetByIdentifier(ctx context.Context, identifier string) (domain.LeadRecord, error) {
	return r.get(ctx, `WHERE visitor_identifier = $1`, identifier)
}

func (r *Repository) get(ctx context.Context, where string, arg any) (domain.LeadRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, visitor_identifier, email, first_name, last_name,
			score, tier, geo_method, geo_area, geo_distance_km, latitude, longitude,
			factors, excerpt, created_at
		FROM leads
	`+where, arg)

	var (
		record           domain.LeadRecord
		email, first     *string
		last, area       *string
		excerpt          *string
		distanceKm       *float64
		lat, lon         *float64
		tier, geoMethod  string
		factors          []byte
	)

	err := row.Scan(&record.ID, &record.VisitorIdentifier, &email, &first, &last,
		&record.Score, &tier, &geoMethod, &area, &distanceKm, &lat, &lon,
		&factors, &excerpt, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LeadRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.LeadRecord{}, err
	}

	record.Email = deref(email)
	record.FirstName = deref(first)
	record.LastName = deref(last)
	record.Excerpt = deref(excerpt)
	record.Tier = domain.Tier(tier)
	record.Enrichment = geo.Enrichment{
		Method:     geoMethod,
		Area:       deref(area),
		DistanceKm: distanceKm,
	}
	if lat != nil && lon != nil {
		record.Enrichment.Point = &geo.Point{Latitude: *lat, Longitude: *lon}
	}

	var named map[string]float64
	if err := json.Unmarshal(factors, &named); err == nil {
		for i, name := range domain.DimensionNames {
			record.Vector[i] = named[name]
		}
	}

	return record, nil
}

// SetSyncState transitions a lead's synchronization state.
func (r *Repository) SetSyncState(ctx context.Context, leadID uuid.UUID, state string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET sync_state = $2, updated_at = now() WHERE id = $1
	`, leadID, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSyncAttempt appends one attempt to the lead's retry history.
func (r *Repository) RecordSyncAttempt(ctx context.Context, attempt domain.SyncAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_attempts (lead_id, attempt, outcome, detail, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, attempt.LeadID, attempt.Attempt, attempt.Outcome, nullable(attempt.Detail), attempt.Timestamp)
	return err
}

// CreateDeadLetter retains a lead that exhausted its retry budget for
// operator inspection. The retry history itself stays in sync_attempts.
func (r *Repository) CreateDeadLetter(ctx context.Context, leadID uuid.UUID, identifier string, attempts int, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dead_letters (lead_id, visitor_identifier, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lead_id) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			created_at = EXCLUDED.created_at
	`, leadID, identifier, attempts, nullable(lastError), time.Now().UTC())
	return err
}

// ListSyncAttempts returns the attempt history for a lead, oldest first.
func (r *Repository) ListSyncAttempts(ctx context.Context, leadID uuid.UUID) ([]domain.SyncAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, attempt, outcome, detail, attempted_at
		FROM sync_attempts
		WHERE lead_id = $1
		ORDER BY attempt ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]domain.SyncAttempt, 0)
	for rows.Next() {
		var attempt domain.SyncAttempt
		var detail *string
		if err := rows.Scan(&attempt.LeadID, &attempt.Attempt, &attempt.Outcome, &detail, &attempt.Timestamp); err != nil {
			return nil, err
		}
		attempt.Detail = deref(detail)
		attempts = append(attempts, attempt)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
