package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"camguard/internal/domain"
	logx "camguard/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore implements Store on database/sql. SQLite and PostgreSQL share the
// queries; placeholders are written as ? and rebound to $n for postgres.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect string

	opCount    atomic.Uint64
	pruneEvery uint64
}

func newSQLStore(db *sql.DB, dialect string, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, dialect: dialect, log: log, pruneEvery: 500}
}

func (s *sqlStore) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar turns ? placeholders into $1..$n.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const cameraColumns = `id, name, emails, location, alert_count, active, status, last_activity,
	schedule_enabled, schedule_days, schedule_start, schedule_end`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) scanCamera(row rowScanner) (domain.Camera, error) {
	var (
		c            domain.Camera
		emails, days string
		lastActivity sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Name, &emails, &c.Location, &c.AlertCount, &c.Active, &c.Status, &lastActivity,
		&c.Schedule.Enabled, &days, &c.Schedule.StartTime, &c.Schedule.EndTime)
	if err != nil {
		return domain.Camera{}, err
	}
	if emails != "" {
		if err := json.Unmarshal([]byte(emails), &c.Emails); err != nil {
			s.log.Warn("bad camera emails column", logx.String("camera_id", c.ID), logx.Err(err))
		}
	}
	var bad []string
	c.Schedule.Days, bad = domain.ParseWeekdayList(days)
	if len(bad) > 0 {
		s.log.Warn("ignoring unknown schedule days", logx.String("camera_id", c.ID), logx.Strings("days", bad))
	}
	if lastActivity.Valid {
		t := time.UnixMilli(lastActivity.Int64)
		c.LastActivity = &t
	}
	return c, nil
}

func (s *sqlStore) FindSchedule(ctx context.Context, cameraID string) (domain.CameraSchedule, error) {
	c, err := s.GetCamera(ctx, cameraID)
	if err != nil {
		return domain.CameraSchedule{}, err
	}
	return c.Schedule, nil
}

func (s *sqlStore) FindAllEnabledSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+cameraColumns+` FROM cameras WHERE schedule_enabled = ? ORDER BY id`), true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		c, err := s.scanCamera(rows)
		if err != nil {
			// One bad row must not hide the others.
			s.log.Warn("skipping unreadable schedule row", logx.Err(err))
			continue
		}
		out = append(out, ScheduleRecord{CameraID: c.ID, Schedule: c.Schedule})
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveSchedule(ctx context.Context, cameraID string, sc domain.CameraSchedule) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE cameras SET schedule_enabled = ?, schedule_days = ?, schedule_start = ?, schedule_end = ? WHERE id = ?`),
		sc.Enabled, domain.FormatWeekdays(sc.Days), sc.StartTime, sc.EndTime, cameraID,
	)
	return expectOne(res, err, "camera", cameraID)
}

func expectOne(res sql.Result, err error, entity, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound(entity, id)
	}
	return nil
}

func (s *sqlStore) CreateCamera(ctx context.Context, c domain.Camera) error {
	if err := c.Validate(); err != nil {
		return err
	}
	emails, err := json.Marshal(nonNilStrings(c.Emails))
	if err != nil {
		return err
	}
	var last any
	if c.LastActivity != nil {
		last = c.LastActivity.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO cameras(`+cameraColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		c.ID, c.Name, string(emails), c.Location, c.AlertCount, c.Active, c.Status, last,
		c.Schedule.Enabled, domain.FormatWeekdays(c.Schedule.Days), c.Schedule.StartTime, c.Schedule.EndTime,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ValidationError{Entity: "camera", Reason: "id " + c.ID + " already exists"}
	}
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *sqlStore) GetCamera(ctx context.Context, id string) (domain.Camera, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`), id)
	c, err := s.scanCamera(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Camera{}, domain.NotFound("camera", id)
	}
	return c, err
}

func (s *sqlStore) ListCameras(ctx context.Context) ([]domain.Camera, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cameraColumns+` FROM cameras ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Camera{}
	for rows.Next() {
		c, err := s.scanCamera(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetCameraActivity(ctx context.Context, id string, active bool, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE cameras SET active = ?, status = ?, last_activity = ? WHERE id = ?`),
		active, status, at.UnixMilli(), id,
	)
	return expectOne(res, err, "camera", id)
}

func (s *sqlStore) DeleteCamera(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM cameras WHERE id = ?`), id)
	return expectOne(res, err, "camera", id)
}

func (s *sqlStore) GetVehicle(ctx context.Context, id string) (domain.VehicleObservation, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT data FROM vehicles WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VehicleObservation{}, domain.NotFound("vehicle", id)
	}
	if err != nil {
		return domain.VehicleObservation{}, err
	}
	var v domain.VehicleObservation
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return domain.VehicleObservation{}, fmt.Errorf("decode vehicle %s: %w", id, err)
	}
	return v, nil
}

func (s *sqlStore) SaveVehicle(ctx context.Context, v domain.VehicleObservation) error {
	if v.ID == "" {
		return &domain.ValidationError{Entity: "vehicle", Fields: []string{"id"}}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO vehicles(id, camera_id, last_update_at, data) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET camera_id = excluded.camera_id, last_update_at = excluded.last_update_at, data = excluded.data`),
		v.ID, v.CameraID, v.LastUpdateAt.UnixMilli(), string(data),
	)
	return err
}

func (s *sqlStore) DeleteVehicle(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM vehicles WHERE id = ?`), id)
	return expectOne(res, err, "vehicle", id)
}

func (s *sqlStore) InsertAlert(ctx context.Context, a domain.Alert) (int64, error) {
	var vehicle any
	if a.Vehicle != nil {
		b, err := json.Marshal(a.Vehicle)
		if err != nil {
			return 0, err
		}
		vehicle = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int64
	err = tx.QueryRowContext(ctx, s.q(`UPDATE cameras SET alert_count = alert_count + 1 WHERE id = ? RETURNING alert_count`), a.CameraID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NotFound("camera", a.CameraID)
	}
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO alerts(id, camera_id, type, severity, description, vehicle_id, vehicle, ts)
		VALUES(?,?,?,?,?,?,?,?)`),
		a.ID, a.CameraID, a.Type, a.Severity, a.Description, a.VehicleID, vehicle, a.Timestamp.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *sqlStore) ListAlertsByCamera(ctx context.Context, cameraID string, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, camera_id, type, severity, description, vehicle_id, vehicle, ts
		FROM alerts WHERE camera_id = ? ORDER BY ts DESC, id DESC LIMIT ?`), cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Alert{}
	for rows.Next() {
		var (
			a       domain.Alert
			vehicle sql.NullString
			ts      int64
		)
		if err := rows.Scan(&a.ID, &a.CameraID, &a.Type, &a.Severity, &a.Description, &a.VehicleID, &vehicle, &ts); err != nil {
			return nil, err
		}
		a.Timestamp = time.UnixMilli(ts)
		if vehicle.Valid && vehicle.String != "" {
			var v domain.VehicleObservation
			if err := json.Unmarshal([]byte(vehicle.String), &v); err == nil {
				a.Vehicle = &v
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO dedup(key, until) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET until = excluded.until`),
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT until FROM dedup WHERE key = ?`), key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM dedup WHERE until < ?`), time.Now().UnixMilli())
	return err
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO audit(at, actor, action, target, ok, err, took_ms, meta) VALUES(?,?,?,?,?,?,?,?)`),
		e.At.UnixMilli(), e.Actor, e.Action, e.Target, e.OK, e.Error, e.TookMS, e.MetaJSON,
	)
	return err
}

func (s *sqlStore) ListAudit(ctx context.Context, target string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT at, actor, action, target, ok, err, took_ms, meta FROM audit`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at int64
		)
		if err := rows.Scan(&at, &e.Actor, &e.Action, &e.Target, &e.OK, &e.Error, &e.TookMS, &e.MetaJSON); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
