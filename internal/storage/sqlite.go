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

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const tsLayout = time.RFC3339Nano

// SQLite is the SQLite-backed store. All writes go through a single
// connection, so statements are serialized by database/sql.
type SQLite struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &SQLite{db: db, log: log, now: time.Now}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	return s.ensureColumn(ctx, "schedules", "end_date", "TEXT")
}

// ensureColumn adds a column that databases created before it existed lack.
func (s *SQLite) ensureColumn(ctx context.Context, table, column, decl string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	s.log.Info("schema upgraded", logx.String("table", table), logx.String("column", column))
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection (used by /healthz).
func (s *SQLite) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// UpsertGroup registers a chat or refreshes its title. The timezone of an
// existing group is left untouched.
func (s *SQLite) UpsertGroup(ctx context.Context, chatID int64, title string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, title, created_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE groups.title END`,
		chatID, strings.TrimSpace(title), s.now().UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert group %d: %w", chatID, err)
	}
	return nil
}

// Group returns the stored group or ErrNotFound.
func (s *SQLite) Group(ctx context.Context, chatID int64) (Group, error) {
	if s == nil || s.db == nil {
		return Group{}, ErrClosed
	}
	var (
		g       Group
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, title, timezone, created_at FROM groups WHERE chat_id = ?`, chatID,
	).Scan(&g.ChatID, &g.Title, &g.Timezone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("get group %d: %w", chatID, err)
	}
	g.CreatedAt, _ = time.Parse(tsLayout, created)
	return g, nil
}

// GroupTimezone returns the group's IANA timezone name. An unknown group or an
// unset timezone yields "" so callers apply the process default.
func (s *SQLite) GroupTimezone(ctx context.Context, chatID int64) (string, error) {
	g, err := s.Group(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return g.Timezone, nil
}

// SetGroupTimezone stores tz for an existing group.
func (s *SQLite) SetGroupTimezone(ctx context.Context, chatID int64, tz string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET timezone = ? WHERE chat_id = ?`, strings.TrimSpace(tz), chatID)
	if err != nil {
		return fmt.Errorf("set timezone for %d: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSchedule inserts an active schedule and returns its id.
// The owning group must already exist.
func (s *SQLite) AddSchedule(ctx context.Context, sc schedule.Schedule) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var (
		template   string
		targetDate sql.NullString
		title      sql.NullString
		endDate    sql.NullString
	)
	switch p := sc.Payload.(type) {
	case schedule.DailyMessage:
		template = p.Template
		if p.Until != nil {
			endDate = sql.NullString{String: p.Until.String(), Valid: true}
		}
	case schedule.Countdown:
		targetDate = sql.NullString{String: p.Target.String(), Valid: !p.Target.IsZero()}
		title = sql.NullString{String: p.Title, Valid: true}
	default:
		return 0, errors.New("add schedule: missing payload")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(chat_id, kind, at_time, template, target_date, title, end_date, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		sc.GroupID, string(sc.Kind()), sc.At.String(), template, targetDate, title, endDate, s.now().UTC().Format(tsLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("add schedule for %d: %w", sc.GroupID, err)
	}
	return res.LastInsertId()
}

// RemoveSchedule deactivates schedule id if it belongs to chatID and is active.
func (s *SQLite) RemoveSchedule(ctx context.Context, chatID, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET is_active = 0 WHERE id = ? AND chat_id = ? AND is_active = 1`, id, chatID)
	if err != nil {
		return fmt.Errorf("remove schedule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireSchedule deactivates a schedule whose end date has passed.
// Expiring an inactive or missing schedule is a no-op.
func (s *SQLite) ExpireSchedule(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE schedules SET is_active = 0 WHERE id = ? AND is_active = 1`, id); err != nil {
		return fmt.Errorf("expire schedule %d: %w", id, err)
	}
	return nil
}

const scheduleCols = `id, chat_id, kind, at_time, template, target_date, title, end_date, last_fired_date`

// ListActiveSchedules returns every active schedule ordered by id.
// Rows that cannot be decoded are logged and left out.
func (s *SQLite) ListActiveSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE is_active = 1 ORDER BY id`)
}

// ListGroupSchedules returns the active schedules of one chat ordered by id.
func (s *SQLite) ListGroupSchedules(ctx context.Context, chatID int64) ([]schedule.Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE is_active = 1 AND chat_id = ? ORDER BY id`, chatID)
}

func (s *SQLite) querySchedules(ctx context.Context, q string, args ...any) ([]schedule.Schedule, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		var r scheduleRow
		if err := rows.Scan(&r.id, &r.chatID, &r.kind, &r.at, &r.template, &r.target, &r.title, &r.endDate, &r.lastFired); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sc, err := r.decode()
		if err != nil {
			s.log.Warn("skipping malformed schedule row", logx.Int64("schedule_id", r.id), logx.Err(err))
			continue
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

type scheduleRow struct {
	id, chatID int64
	kind, at   string
	template   string
	target     sql.NullString
	title      sql.NullString
	endDate    sql.NullString
	lastFired  sql.NullString
}

func (r scheduleRow) decode() (schedule.Schedule, error) {
	at, err := schedule.ParseTimeOfDay(r.at)
	if err != nil {
		return schedule.Schedule{}, err
	}
	sc := schedule.Schedule{ID: r.id, GroupID: r.chatID, At: at}

	switch schedule.Kind(r.kind) {
	case schedule.KindDaily:
		p := schedule.DailyMessage{Template: r.template}
		if r.endDate.Valid && r.endDate.String != "" {
			d, err := schedule.ParseDate(r.endDate.String)
			if err != nil {
				return schedule.Schedule{}, fmt.Errorf("end_date: %w", err)
			}
			p.Until = &d
		}
		sc.Payload = p
	case schedule.KindCountdown:
		c := schedule.Countdown{Title: r.title.String}
		// A bad target date still yields a schedule; rendering falls back.
		if r.target.Valid {
			c.Target, _ = schedule.ParseDate(r.target.String)
		}
		sc.Payload = c
	default:
		return schedule.Schedule{}, fmt.Errorf("unknown kind %q", r.kind)
	}

	if r.lastFired.Valid && r.lastFired.String != "" {
		d, err := schedule.ParseDate(r.lastFired.String)
		if err != nil {
			return schedule.Schedule{}, fmt.Errorf("last_fired_date: %w", err)
		}
		sc.LastFired = &d
	}
	return sc, nil
}

// MarkFired records a successful delivery for the local date d. The marker
// only moves forward: repeating a call or passing an older date is a no-op.
func (s *SQLite) MarkFired(ctx context.Context, id int64, d schedule.Date) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	// ISO dates compare correctly as text.
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_fired_date = ?
		 WHERE id = ? AND (last_fired_date IS NULL OR last_fired_date < ?)`,
		d.String(), id, d.String())
	if err != nil {
		return fmt.Errorf("mark schedule %d fired: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM schedules WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark schedule %d fired: %w", id, err)
	}
	return nil
}

// AddGroupAdmin records userID as an admin of chatID.
func (s *SQLite) AddGroupAdmin(ctx context.Context, chatID, userID int64, username string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_admins(chat_id, user_id, username, added_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET username = excluded.username`,
		chatID, userID, nullStr(username), s.now().UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("add admin %d to %d: %w", userID, chatID, err)
	}
	return nil
}

// IsGroupAdmin reports whether userID was recorded as an admin of chatID.
func (s *SQLite) IsGroupAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM group_admins WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return true, nil
}

func (s *SQLite) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, ok, err, request_id)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(tsLayout), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, e.Target, ok, nullStr(e.Error), nullStr(e.RequestID),
	)
	return err
}

// RecentAudit returns the newest audit entries of a chat, newest first.
func (s *SQLite) RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, COALESCE(actor_username, ''), chat_id, action, target, ok, COALESCE(err, ''), COALESCE(request_id, '')
		 FROM audit WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
			ok int
		)
		if err := rows.Scan(&at, &e.ActorID, &e.ActorUsername, &e.ChatID, &e.Action, &e.Target, &ok, &e.Error, &e.RequestID); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(tsLayout, at)
		e.OK = ok == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
