package servicemode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tajine/internal/db"
)

// singletonKey addresses the one service-mode row.
const singletonKey = "service_mode"

// Store persists the service-mode singleton and its transition history.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a service-mode Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Get returns the current record. A missing row reads as mode 0; the row
// initialises lazily on the first write.
func (s *Store) Get(ctx context.Context) (Record, error) {
	var r Record
	var rawTriggers []byte
	err := s.dbtx.QueryRow(ctx,
		`SELECT current_mode, reason, entered_at, triggers, updated_at
		 FROM service_mode WHERE key = $1`,
		singletonKey,
	).Scan(&r.CurrentMode, &r.Reason, &r.EnteredAt, &rawTriggers, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			now := time.Now().UTC()
			return Record{
				CurrentMode: ModeNormal,
				Reason:      "initial",
				EnteredAt:   now,
				Triggers:    Triggers{ProviderHealthy: true, BudgetOk: true, LatencyOk: true, BreakerClosed: true},
				UpdatedAt:   now,
			}, nil
		}
		return Record{}, fmt.Errorf("reading service mode: %w", err)
	}
	if err := json.Unmarshal(rawTriggers, &r.Triggers); err != nil {
		return Record{}, fmt.Errorf("decoding service mode triggers: %w", err)
	}
	return r, nil
}

// Upsert writes the singleton. entered_at is refreshed only when
// refreshEnteredAt is set, i.e. on actual transitions.
func (s *Store) Upsert(ctx context.Context, mode Mode, reason string, triggers Triggers, refreshEnteredAt bool) error {
	rawTriggers, err := json.Marshal(triggers)
	if err != nil {
		return fmt.Errorf("encoding triggers: %w", err)
	}
	_, err = s.dbtx.Exec(ctx,
		`INSERT INTO service_mode (key, current_mode, reason, entered_at, triggers, updated_at)
		 VALUES ($1, $2, $3, now(), $4, now())
		 ON CONFLICT (key) DO UPDATE
		 SET current_mode = EXCLUDED.current_mode,
		     reason = EXCLUDED.reason,
		     triggers = EXCLUDED.triggers,
		     entered_at = CASE WHEN $5 THEN now() ELSE service_mode.entered_at END,
		     updated_at = now()`,
		singletonKey, int(mode), reason, rawTriggers, refreshEnteredAt,
	)
	if err != nil {
		return fmt.Errorf("writing service mode: %w", err)
	}
	return nil
}

// InsertHistory appends a transition record.
func (s *Store) InsertHistory(ctx context.Context, mode, previous Mode, reason string, triggers Triggers) error {
	rawTriggers, err := json.Marshal(triggers)
	if err != nil {
		return fmt.Errorf("encoding triggers: %w", err)
	}
	_, err = s.dbtx.Exec(ctx,
		`INSERT INTO service_mode_history (mode, previous_mode, reason, triggers, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		int(mode), int(previous), reason, rawTriggers,
	)
	if err != nil {
		return fmt.Errorf("inserting service mode history: %w", err)
	}
	return nil
}

// History returns the most recent transitions, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.dbtx.Query(ctx,
		`SELECT mode, previous_mode, reason, triggers, created_at
		 FROM service_mode_history ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing service mode history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var rawTriggers []byte
		if err := rows.Scan(&e.Mode, &e.PreviousMode, &e.Reason, &rawTriggers, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		if err := json.Unmarshal(rawTriggers, &e.Triggers); err != nil {
			return nil, fmt.Errorf("decoding history triggers: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history entries: %w", err)
	}
	return entries, nil
}
