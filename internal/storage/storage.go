// Package storage persists channel bindings, identity mappings, and
// notification preferences in a local sqlite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"herald/internal/chat"
	"herald/internal/notify"
	logx "herald/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store implements notify's BindingStore, IdentityStore, and PreferenceStore
// on sqlite. A single connection keeps sqlite's writer model simple.
type Store struct {
	db  *sqlx.DB
	log logx.Logger
}

var (
	_ notify.BindingStore    = (*Store)(nil)
	_ notify.IdentityStore   = (*Store)(nil)
	_ notify.PreferenceStore = (*Store)(nil)
)

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- channel bindings ----

type bindingRow struct {
	GroupID   int64  `db:"group_id"`
	Logical   string `db:"logical_name"`
	Category  string `db:"category"`
	ChatID    int64  `db:"chat_id"`
	TopicID   int    `db:"topic_id"`
	CreatedAt string `db:"created_at"`
}

func (s *Store) PutBinding(ctx context.Context, b notify.ChannelBinding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_bindings(group_id, logical_name, category, chat_id, topic_id, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(group_id, logical_name) DO UPDATE SET
		   category=excluded.category, chat_id=excluded.chat_id, topic_id=excluded.topic_id`,
		b.Group, b.Logical, b.Category, b.Dest.ChatID, b.Dest.TopicID, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListBindings(ctx context.Context, group int64) ([]notify.ChannelBinding, error) {
	var rows []bindingRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT group_id, logical_name, category, chat_id, topic_id, created_at
		 FROM channel_bindings WHERE group_id = ? ORDER BY logical_name`, group)
	if err != nil {
		return nil, err
	}
	out := make([]notify.ChannelBinding, 0, len(rows))
	for _, r := range rows {
		out = append(out, notify.ChannelBinding{
			Group:    r.GroupID,
			Logical:  r.Logical,
			Category: r.Category,
			Dest:     chat.Destination{ChatID: r.ChatID, TopicID: r.TopicID},
		})
	}
	return out, nil
}

func (s *Store) DeleteBindings(ctx context.Context, group int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_bindings WHERE group_id = ?`, group)
	return err
}

// ---- identity mappings ----

func (s *Store) LookupIdentity(ctx context.Context, externalID string) (int64, bool, error) {
	var identity int64
	err := s.db.GetContext(ctx, &identity,
		`SELECT identity FROM identity_mappings WHERE external_id = ? ORDER BY id LIMIT 1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return identity, true, nil
}

func (s *Store) PutIdentity(ctx context.Context, externalID string, identity int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_mappings(external_id, identity, created_at) VALUES(?,?,?)`,
		externalID, identity, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ---- notification preferences ----

type preferenceRow struct {
	Identity        int64  `db:"identity"`
	DueDateReminder string `db:"due_date_reminder"`
	Assignment      int    `db:"assignment_notifications"`
}

func (s *Store) GetPreference(ctx context.Context, identity int64) (notify.Preference, bool, error) {
	var row preferenceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT identity, due_date_reminder, assignment_notifications
		 FROM preferences WHERE identity = ?`, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Preference{}, false, nil
	}
	if err != nil {
		return notify.Preference{}, false, err
	}
	return notify.Preference{
		Identity:                row.Identity,
		DueDateReminder:         notify.Interval(row.DueDateReminder),
		AssignmentNotifications: row.Assignment != 0,
	}, true, nil
}

func (s *Store) SetPreference(ctx context.Context, p notify.Preference) error {
	assignment := 0
	if p.AssignmentNotifications {
		assignment = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences(identity, due_date_reminder, assignment_notifications, updated_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(identity) DO UPDATE SET
		   due_date_reminder=excluded.due_date_reminder,
		   assignment_notifications=excluded.assignment_notifications,
		   updated_at=excluded.updated_at`,
		p.Identity, string(p.DueDateReminder), assignment, time.Now().UTC().Format(time.RFC3339))
	return err
}
