// Package appstatus periodically reconciles an external contact-list CSV
// into application_status rows (spec.md §2's component table; supplemented
// from original_source since spec.md's body doesn't detail it and its
// Non-goals don't exclude it). Grounded on
// original_source/.../leaderboard-bot_v2/coordinator/coordinator.py's
// reconcile-on-a-timer loop shape (record start, do the work, record
// done), restructured here as an injectable Reconcile call the coordinator
// or a standalone ticker can invoke.
package appstatus

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mina-uptime/coordinator/internal/resultdb"
)

// requestTimeout bounds the contact-list fetch.
const requestTimeout = 30 * time.Second

// Store is the subset of ResultDB the Updater depends on.
type Store interface {
	GetApplicationStatus(ctx context.Context) ([]resultdb.ApplicationStatusRow, error)
	UpdateApplicationStatus(ctx context.Context, rows []resultdb.ApplicationStatusRow, now time.Time) error
}

// Clock returns the current time, for stamping reconciled rows.
type Clock interface {
	Now() time.Time
}

// Updater fetches a published contact-list CSV and reconciles it against
// application_status.
type Updater struct {
	store  Store
	clock  Clock
	client *http.Client
	logger zerolog.Logger
}

// New returns an Updater backed by store.
func New(store Store, clk Clock, logger zerolog.Logger) *Updater {
	return &Updater{
		store:  store,
		clock:  clk,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With().Str("component", "appstatus_updater").Logger(),
	}
}

// Reconcile fetches contactListURL, diffs it against the current
// application_status rows, and persists the reconciled set. The CSV is
// expected with header "block_producer_key,application_name,active".
func (u *Updater) Reconcile(ctx context.Context, contactListURL string) error {
	fetched, err := u.fetchContactList(ctx, contactListURL)
	if err != nil {
		return fmt.Errorf("fetch contact list: %w", err)
	}

	existing, err := u.store.GetApplicationStatus(ctx)
	if err != nil {
		return fmt.Errorf("get application status: %w", err)
	}

	reconciled := reconcile(existing, fetched)

	if err := u.store.UpdateApplicationStatus(ctx, reconciled, u.clock.Now()); err != nil {
		return fmt.Errorf("update application status: %w", err)
	}

	u.logger.Info().Int("rows", len(reconciled)).Msg("reconciled application status")
	return nil
}

func (u *Updater) fetchContactList(ctx context.Context, url string) ([]resultdb.ApplicationStatusRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request contact list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contact list returned status %d", resp.StatusCode)
	}

	return parseContactListCSV(resp.Body)
}

// reconcile merges fetched contact-list rows into the existing set: any
// producer present in fetched is active (or takes the fetched active
// flag); any producer in existing but absent from fetched is marked
// inactive rather than dropped, so historical point records keep a valid
// application_status row.
func reconcile(existing, fetched []resultdb.ApplicationStatusRow) []resultdb.ApplicationStatusRow {
	byKey := make(map[string]resultdb.ApplicationStatusRow, len(existing))
	for _, row := range existing {
		byKey[row.BlockProducerKey] = row
	}

	seen := make(map[string]bool, len(fetched))
	for _, row := range fetched {
		byKey[row.BlockProducerKey] = row
		seen[row.BlockProducerKey] = true
	}

	for key, row := range byKey {
		if !seen[key] {
			row.Active = false
			byKey[key] = row
		}
	}

	out := make([]resultdb.ApplicationStatusRow, 0, len(byKey))
	for _, row := range byKey {
		out = append(out, row)
	}
	return out
}
