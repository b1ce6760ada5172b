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

	_ "modernc.org/sqlite"

	logx "cronbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store wraps the SQLite database. All timestamps are stored as RFC3339 UTC.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
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

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
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

// Ping verifies the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store is closed")
	}
	return s.db.PingContext(ctx)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---- crons ----

func (s *Store) InsertCron(ctx context.Context, c Cron) (int64, error) {
	var target any
	if c.TargetUserID != 0 {
		target = c.TargetUserID
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO crons(chat_id, thread_id, created_by, preset, time_h, time_m, tz, text, target_user_id, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		c.ChatID, c.ThreadID, c.CreatedBy, c.Preset, c.Hour, c.Minute, c.TZ, c.Text, target,
		created.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateCronTrigger rewrites the firing time of an existing cron row.
// Used when the configured default job time drifts from the stored row.
func (s *Store) UpdateCronTrigger(ctx context.Context, id int64, preset string, hour, minute int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE crons SET preset = ?, time_h = ?, time_m = ? WHERE id = ?`,
		preset, hour, minute, id,
	)
	return err
}

// DeleteCron removes a cron scoped to a chat. Returns false when no row
// matched (wrong id or a different chat's job).
func (s *Store) DeleteCron(ctx context.Context, chatID, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM crons WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const cronCols = `id, chat_id, thread_id, created_by, preset, time_h, time_m, tz, text, target_user_id, created_at`

func scanCron(rows interface{ Scan(...any) error }) (Cron, error) {
	var c Cron
	var target sql.NullInt64
	var created string
	err := rows.Scan(&c.ID, &c.ChatID, &c.ThreadID, &c.CreatedBy, &c.Preset, &c.Hour, &c.Minute,
		&c.TZ, &c.Text, &target, &created)
	if err != nil {
		return Cron{}, err
	}
	if target.Valid {
		c.TargetUserID = target.Int64
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

func (s *Store) queryCrons(ctx context.Context, q string, args ...any) ([]Cron, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cron
	for rows.Next() {
		c, err := scanCron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListCrons(ctx context.Context, chatID int64) ([]Cron, error) {
	return s.queryCrons(ctx, `SELECT `+cronCols+` FROM crons WHERE chat_id = ? ORDER BY id`, chatID)
}

func (s *Store) ListAllCrons(ctx context.Context) ([]Cron, error) {
	return s.queryCrons(ctx, `SELECT `+cronCols+` FROM crons ORDER BY id`)
}

// FindCronByText returns the first cron in a chat with exactly the given text.
// The bootstrap uses this to locate the default random-phrase job by marker.
func (s *Store) FindCronByText(ctx context.Context, chatID int64, text string) (Cron, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cronCols+` FROM crons WHERE chat_id = ? AND text = ? ORDER BY id LIMIT 1`,
		chatID, text)
	c, err := scanCron(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Cron{}, false, nil
	}
	if err != nil {
		return Cron{}, false, err
	}
	return c, true, nil
}

// ---- phrases ----

func (s *Store) InsertPhrase(ctx context.Context, chatID int64, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO phrases(chat_id, text, created_at) VALUES(?,?,?)`,
		chatID, text, now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListPhrases(ctx context.Context, chatID int64) ([]Phrase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, text, created_at FROM phrases WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Phrase
	for rows.Next() {
		var p Phrase
		var created string
		if err := rows.Scan(&p.ID, &p.ChatID, &p.Text, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePhrase(ctx context.Context, chatID, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM phrases WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RandomPhrase picks one phrase uniformly at random. ok is false when the
// chat's pool is empty.
func (s *Store) RandomPhrase(ctx context.Context, chatID int64) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM phrases WHERE chat_id = ? ORDER BY RANDOM() LIMIT 1`, chatID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// SeedPhrases inserts the given phrases only when the chat has none yet.
// Blank entries are skipped. Returns the number inserted.
func (s *Store) SeedPhrases(ctx context.Context, chatID int64, phrases []string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM phrases WHERE chat_id = ?`, chatID).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	inserted := 0
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO phrases(chat_id, text, created_at) VALUES(?,?,?)`, chatID, p, ts); err != nil {
			return 0, err
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ---- chat settings ----

func (s *Store) SetDefaultThread(ctx context.Context, chatID int64, threadID int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings(chat_id, default_thread_id, updated_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET default_thread_id=excluded.default_thread_id, updated_at=excluded.updated_at`,
		chatID, threadID, now(),
	)
	return err
}

func (s *Store) DefaultThread(ctx context.Context, chatID int64) (int, bool, error) {
	var threadID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT default_thread_id FROM chat_settings WHERE chat_id = ?`, chatID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !threadID.Valid {
		return 0, false, nil
	}
	return int(threadID.Int64), true, nil
}

// MarkChatSeen records a chat id without touching its settings, so the
// bootstrap can enumerate chats the bot has been active in.
func (s *Store) MarkChatSeen(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings(chat_id, default_thread_id, updated_at) VALUES(?,NULL,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		chatID, now(),
	)
	return err
}

// KnownChats returns every chat id mentioned in chat_settings or crons.
func (s *Store) KnownChats(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM chat_settings UNION SELECT chat_id FROM crons ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- confronts ----

func (s *Store) InsertConfront(ctx context.Context, c Confront) (int64, error) {
	var trigger any
	if strings.TrimSpace(c.TriggerEmoji) != "" {
		trigger = c.TriggerEmoji
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO confronts(chat_id, target_user_id, trigger_emoji, counter_emoji, created_by, created_at)
		 VALUES(?,?,?,?,?,?)`,
		c.ChatID, c.TargetUserID, trigger, c.CounterEmoji, c.CreatedBy, now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListConfronts(ctx context.Context, chatID int64) ([]Confront, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, target_user_id, trigger_emoji, counter_emoji, created_by, created_at
		 FROM confronts WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Confront
	for rows.Next() {
		var c Confront
		var trigger sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &c.ChatID, &c.TargetUserID, &trigger, &c.CounterEmoji, &c.CreatedBy, &created); err != nil {
			return nil, err
		}
		if trigger.Valid {
			c.TriggerEmoji = trigger.String
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteConfront(ctx context.Context, chatID, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM confronts WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
