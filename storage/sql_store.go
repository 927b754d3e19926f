package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"timer2ticket/model"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defaultJobLogLimit = 50

type dialect struct {
	name            string
	migrationsTable string
	upsertUser      string
}

const userColumns = `id, username, status, registrated, config_schedule, config_last_done, time_entry_schedule, time_entry_last_done, service_definitions, mappings`

var (
	sqliteDialect = dialect{
		name: DriverSQLite,
		migrationsTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`,
		upsertUser: `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	username = excluded.username,
	status = excluded.status,
	registrated = excluded.registrated,
	config_schedule = excluded.config_schedule,
	config_last_done = excluded.config_last_done,
	time_entry_schedule = excluded.time_entry_schedule,
	time_entry_last_done = excluded.time_entry_last_done,
	service_definitions = excluded.service_definitions,
	mappings = excluded.mappings`,
	}

	mysqlDialect = dialect{
		name: DriverMySQL,
		migrationsTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	applied_at VARCHAR(40) NOT NULL
) ENGINE=InnoDB`,
		upsertUser: `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	username = VALUES(username),
	status = VALUES(status),
	registrated = VALUES(registrated),
	config_schedule = VALUES(config_schedule),
	config_last_done = VALUES(config_last_done),
	time_entry_schedule = VALUES(time_entry_schedule),
	time_entry_last_done = VALUES(time_entry_last_done),
	service_definitions = VALUES(service_definitions),
	mappings = VALUES(mappings)`,
	}
)

// SQLStore keeps users, synced objects and job logs in a SQL database.
// Nested documents are stored as JSON columns.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite db: %w", err)
	}

	return newSQLStore(context.Background(), db, sqliteDialect)
}

func OpenMySQL(ctx context.Context, dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// RowsAffected must count matched rows so unchanged updates are not reported as missing.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("open mysql db: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql db: %w", err)
	}

	return newSQLStore(ctx, db, mysqlDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := migrate(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s db: %w", d.name, err)
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

func (s *SQLStore) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	return s.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE status = ? ORDER BY username`, model.UserStatusActive)
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
}

func (s *SQLStore) listUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *SQLStore) UpsertUser(ctx context.Context, user model.User) (model.User, error) {
	user = withUserDefaults(user, s.now())

	definitions, err := json.Marshal(user.ServiceDefinitions)
	if err != nil {
		return model.User{}, fmt.Errorf("encode service definitions: %w", err)
	}
	mappings, err := encodeMappings(user.Mappings)
	if err != nil {
		return model.User{}, err
	}

	_, err = s.db.ExecContext(ctx, s.dialect.upsertUser,
		user.ID,
		user.Username,
		user.Status,
		formatTime(user.Registrated),
		user.ConfigSyncJobDefinition.Schedule,
		formatNullTime(user.ConfigSyncJobDefinition.LastSuccessfullyDone),
		user.TimeEntrySyncJobDefinition.Schedule,
		formatNullTime(user.TimeEntrySyncJobDefinition.LastSuccessfullyDone),
		string(definitions),
		mappings,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("upsert user %s: %w", user.ID, err)
	}
	return user, nil
}

func (s *SQLStore) ReplaceUserMappings(ctx context.Context, userID string, mappings []model.Mapping) error {
	encoded, err := encodeMappings(mappings)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE users SET mappings = ? WHERE id = ?`, encoded, userID)
	if err != nil {
		return fmt.Errorf("update mappings of user %s: %w", userID, err)
	}
	return requireAffected(result, "user "+userID)
}

func (s *SQLStore) SetConfigJobLastSuccessfullyDone(ctx context.Context, userID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET config_last_done = ? WHERE id = ?`, formatTime(at), userID)
	if err != nil {
		return fmt.Errorf("stamp config job of user %s: %w", userID, err)
	}
	return requireAffected(result, "user "+userID)
}

func (s *SQLStore) SetTimeEntryJobLastSuccessfullyDone(ctx context.Context, userID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET time_entry_last_done = ? WHERE id = ?`, formatTime(at), userID)
	if err != nil {
		return fmt.Errorf("stamp time entries job of user %s: %w", userID, err)
	}
	return requireAffected(result, "user "+userID)
}

func (s *SQLStore) ListTimeEntrySyncedObjects(ctx context.Context, userID string) ([]model.TimeEntrySyncedObject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, last_updated, members FROM time_entry_synced_objects WHERE user_id = ? ORDER BY last_updated, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query time entry synced objects: %w", err)
	}
	defer rows.Close()

	out := make([]model.TimeEntrySyncedObject, 0)
	for rows.Next() {
		var (
			teso        model.TimeEntrySyncedObject
			lastUpdated string
			members     string
		)
		if err := rows.Scan(&teso.ID, &teso.UserID, &lastUpdated, &members); err != nil {
			return nil, fmt.Errorf("scan time entry synced object: %w", err)
		}
		if teso.LastUpdated, err = parseTime(lastUpdated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(members), &teso.ServiceTimeEntryObjects); err != nil {
			return nil, fmt.Errorf("decode members of %s: %w", teso.ID, err)
		}
		out = append(out, teso)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time entry synced objects: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateTimeEntrySyncedObject(ctx context.Context, teso model.TimeEntrySyncedObject) (model.TimeEntrySyncedObject, error) {
	if teso.ID == "" {
		teso.ID = uuid.NewString()
	}
	members, err := json.Marshal(teso.ServiceTimeEntryObjects)
	if err != nil {
		return model.TimeEntrySyncedObject{}, fmt.Errorf("encode members: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO time_entry_synced_objects (id, user_id, last_updated, members) VALUES (?, ?, ?, ?)`,
		teso.ID, teso.UserID, formatTime(teso.LastUpdated), string(members),
	)
	if err != nil {
		return model.TimeEntrySyncedObject{}, fmt.Errorf("insert time entry synced object: %w", err)
	}
	return teso, nil
}

func (s *SQLStore) UpdateTimeEntrySyncedObject(ctx context.Context, teso model.TimeEntrySyncedObject) error {
	members, err := json.Marshal(teso.ServiceTimeEntryObjects)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE time_entry_synced_objects SET last_updated = ?, members = ? WHERE id = ?`,
		formatTime(teso.LastUpdated), string(members), teso.ID,
	)
	if err != nil {
		return fmt.Errorf("update time entry synced object %s: %w", teso.ID, err)
	}
	return requireAffected(result, "time entry synced object "+teso.ID)
}

func (s *SQLStore) DeleteTimeEntrySyncedObject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM time_entry_synced_objects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete time entry synced object %s: %w", id, err)
	}
	return requireAffected(result, "time entry synced object "+id)
}

func (s *SQLStore) CreateJobLog(ctx context.Context, log model.JobLog) (model.JobLog, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Errors == nil {
		log.Errors = []string{}
	}
	errs, err := json.Marshal(log.Errors)
	if err != nil {
		return model.JobLog{}, fmt.Errorf("encode job log errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_logs (id, user_id, type, origin, status, scheduled_date, started, completed, errors) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, string(log.Type), string(log.Origin), string(log.Status),
		formatTime(log.ScheduledDate), formatNullTime(log.Started), formatNullTime(log.Completed), string(errs),
	)
	if err != nil {
		return model.JobLog{}, fmt.Errorf("insert job log: %w", err)
	}
	return log, nil
}

func (s *SQLStore) UpdateJobLog(ctx context.Context, log model.JobLog) error {
	if log.Errors == nil {
		log.Errors = []string{}
	}
	errs, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("encode job log errors: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE job_logs SET status = ?, started = ?, completed = ?, errors = ? WHERE id = ?`,
		string(log.Status), formatNullTime(log.Started), formatNullTime(log.Completed), string(errs), log.ID,
	)
	if err != nil {
		return fmt.Errorf("update job log %s: %w", log.ID, err)
	}
	return requireAffected(result, "job log "+log.ID)
}

func (s *SQLStore) ListJobLogs(ctx context.Context, userID string, limit int) ([]model.JobLog, error) {
	if limit <= 0 {
		limit = defaultJobLogLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, origin, status, scheduled_date, started, completed, errors FROM job_logs WHERE user_id = ? ORDER BY scheduled_date DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query job logs: %w", err)
	}
	defer rows.Close()

	logs := make([]model.JobLog, 0)
	for rows.Next() {
		var (
			log                 model.JobLog
			jobType, origin, st string
			scheduled, errs     string
			started, completed  sql.NullString
		)
		if err := rows.Scan(&log.ID, &log.UserID, &jobType, &origin, &st, &scheduled, &started, &completed, &errs); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		log.Type = model.JobType(jobType)
		log.Origin = model.JobOrigin(origin)
		log.Status = model.JobStatus(st)
		if log.ScheduledDate, err = parseTime(scheduled); err != nil {
			return nil, err
		}
		if log.Started, err = parseNullTime(started); err != nil {
			return nil, err
		}
		if log.Completed, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(errs), &log.Errors); err != nil {
			return nil, fmt.Errorf("decode errors of job log %s: %w", log.ID, err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job logs: %w", err)
	}
	return logs, nil
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		user                        model.User
		registrated                 string
		configDone, timeEntriesDone sql.NullString
		definitions, mappings       string
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Status,
		&registrated,
		&user.ConfigSyncJobDefinition.Schedule,
		&configDone,
		&user.TimeEntrySyncJobDefinition.Schedule,
		&timeEntriesDone,
		&definitions,
		&mappings,
	)
	if err != nil {
		return model.User{}, err
	}

	if user.Registrated, err = parseTime(registrated); err != nil {
		return model.User{}, err
	}
	if user.ConfigSyncJobDefinition.LastSuccessfullyDone, err = parseNullTime(configDone); err != nil {
		return model.User{}, err
	}
	if user.TimeEntrySyncJobDefinition.LastSuccessfullyDone, err = parseNullTime(timeEntriesDone); err != nil {
		return model.User{}, err
	}
	if err := json.Unmarshal([]byte(definitions), &user.ServiceDefinitions); err != nil {
		return model.User{}, fmt.Errorf("decode service definitions of %s: %w", user.ID, err)
	}
	if err := json.Unmarshal([]byte(mappings), &user.Mappings); err != nil {
		return model.User{}, fmt.Errorf("decode mappings of %s: %w", user.ID, err)
	}
	return user, nil
}

func withUserDefaults(user model.User, now time.Time) model.User {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Registrated.IsZero() {
		user.Registrated = now
	}
	if user.Status == "" {
		user.Status = model.UserStatusActive
	}
	if user.Mappings == nil {
		user.Mappings = []model.Mapping{}
	}
	return user
}

func encodeMappings(mappings []model.Mapping) (string, error) {
	if mappings == nil {
		mappings = []model.Mapping{}
	}
	b, err := json.Marshal(mappings)
	if err != nil {
		return "", fmt.Errorf("encode mappings: %w", err)
	}
	return string(b), nil
}

func requireAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", value, err)
	}
	return t, nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
