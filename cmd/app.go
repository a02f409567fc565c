package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/events"
	"github.com/marcus/sn/internal/models"
	snsync "github.com/marcus/sn/internal/sync"
	"github.com/marcus/sn/internal/syncclient"
	"github.com/marcus/sn/internal/syncconfig"
)

// localOwner owns records created before the first login.
const localOwner = "local"

// openStore opens the local store under the base dir and applies the
// configured quota.
func openStore(settings *syncconfig.Settings) (*db.DB, error) {
	store, err := db.Open(getBaseDir())
	if err != nil {
		return nil, err
	}
	if settings != nil {
		store.SetQuota(settings.QuotaBytes)
	}
	return store, nil
}

// openApp loads settings and opens the store in one step.
func openApp() (*syncconfig.Settings, *db.DB, error) {
	settings, err := syncconfig.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(settings)
	if err != nil {
		return nil, nil, err
	}
	return settings, store, nil
}

func ownerID(s *syncconfig.Settings) string {
	if s.UserID != "" {
		return s.UserID
	}
	return localOwner
}

func isAuthenticated(s *syncconfig.Settings) bool {
	return s.APIKey != "" && s.ServerURL != ""
}

// newClient builds a remote client from settings.
func newClient(s *syncconfig.Settings) *syncclient.Client {
	return syncclient.New(s.ServerURL, s.APIKey, s.DeviceID)
}

// newEngine wires an engine to the store and the configured server. Extra
// sources are only started by Engine.Run.
func newEngine(store *db.DB, s *syncconfig.Settings, sources ...snsync.Source) *snsync.Engine {
	return snsync.New(store, newClient(s), snsync.Options{
		Backoff: snsync.Backoff{
			Base:   s.BackoffBase,
			Max:    s.BackoffMax,
			Jitter: s.BackoffJitter,
		},
		RequestTimeout: s.RequestTimeout,
		Sources:        sources,
		OnUnauthenticated: func(err error) {
			slog.Warn("sync: credentials rejected, run 'sn login'", "err", err)
		},
		Logger: slog.Default(),
	})
}

// parseTable resolves a table argument such as "note" or "cards".
func parseTable(name string) (models.Table, error) {
	t, ok := events.NormalizeTable(name)
	if !ok {
		return "", fmt.Errorf("unknown table %q (use notes, flashcards, decks or preferences)", name)
	}
	return t, nil
}

// findRecord looks id up in every table when the table is not known.
func findRecord(store *db.DB, id string) (*models.Record, error) {
	for _, t := range models.AllTables() {
		rec, err := store.Get(t, id)
		if err == nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("record %s: %w", id, db.ErrNotFound)
}

// putPayload encodes p and writes it as rec, creating rec when nil.
func putPayload(store *db.DB, s *syncconfig.Settings, rec *models.Record, p models.Payload) (*models.Record, models.Operation, error) {
	raw, err := models.EncodePayload(p)
	if err != nil {
		return nil, "", err
	}
	if rec == nil {
		rec = &models.Record{OwnerID: ownerID(s)}
	}
	rec.Payload = raw
	op, err := store.Put(p.Table(), rec)
	if err != nil {
		return nil, "", err
	}
	return rec, op, nil
}

// editPayload loads a record, overlays the non-zero fields of next and
// writes the result.
func editPayload(store *db.DB, s *syncconfig.Settings, table models.Table, id string, next models.Payload) (*models.Record, error) {
	rec, err := store.Get(table, id)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", table, id, err)
	}
	cur, err := rec.Decode()
	if err != nil {
		return nil, err
	}
	rec, _, err = putPayload(store, s, rec, cur.Merge(next))
	return rec, err
}

func parseDue(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		t := time.Now().Add(d)
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid due %q (use a duration like 48h or a date like 2026-01-02)", value)
	}
	return &t, nil
}
