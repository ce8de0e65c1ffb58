package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/centerseed/havital-watch/internal/session"
)

// Keys of the shared cache entries. Each is written only as a whole document.
const (
	KeyWeeklyPlan   = "weekly_plan"
	KeyUserProfile  = "user_profile"
	KeyLastSyncTime = "last_sync_time"
)

// Store is the durable cache shared between the device processes, plus the
// archive of finished activities. SQLite via modernc (pure Go, no CGO).
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the store at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: path}

	if err := s.configurePragmas(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// DataDir returns the default data directory following the XDG spec.
func DataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "havital-watch")
}

// DefaultPath returns the default database path following the XDG spec.
func DefaultPath() string {
	return filepath.Join(DataDir(), "havital.db")
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
	id               TEXT PRIMARY KEY,
	started_at       TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	distance_meters  REAL NOT NULL,
	samples          TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Get reads one cache entry. The second return is false when the key has
// never been written.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Put overwrites one cache entry as a whole document.
func (s *Store) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// SaveActivity archives a finished session.
func (s *Store) SaveActivity(activity *session.Activity) error {
	if activity == nil || activity.ID == "" {
		return fmt.Errorf("save activity: missing id")
	}

	samples, err := json.Marshal(struct {
		DistanceLog  []session.DistanceSample  `json:"distance_log,omitempty"`
		HeartRateLog []session.HeartRateSample `json:"heart_rate_log,omitempty"`
		Route        interface{}               `json:"route,omitempty"`
	}{activity.DistanceLog, activity.HeartRateLog, activity.Route})
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT INTO activities (id, started_at, duration_seconds, distance_meters, samples) VALUES (?, ?, ?, ?, ?)",
		activity.ID,
		activity.StartedAt.UTC().Format(time.RFC3339),
		activity.Duration.Seconds(),
		activity.DistanceMeters,
		string(samples),
	)
	if err != nil {
		return fmt.Errorf("save activity %s: %w", activity.ID, err)
	}
	return nil
}

// LoadActivity reads one archived session back.
func (s *Store) LoadActivity(id string) (*session.Activity, error) {
	var (
		startedAt string
		duration  float64
		distance  float64
		samples   string
	)
	err := s.db.QueryRow(
		"SELECT started_at, duration_seconds, distance_meters, samples FROM activities WHERE id = ?", id,
	).Scan(&startedAt, &duration, &distance, &samples)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("activity %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", id, err)
	}

	started, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("load activity %s: bad timestamp: %w", id, err)
	}

	activity := &session.Activity{
		ID:             id,
		StartedAt:      started,
		Duration:       time.Duration(duration * float64(time.Second)),
		DistanceMeters: distance,
	}
	var decoded struct {
		DistanceLog  []session.DistanceSample  `json:"distance_log"`
		HeartRateLog []session.HeartRateSample `json:"heart_rate_log"`
	}
	if err := json.Unmarshal([]byte(samples), &decoded); err != nil {
		return nil, fmt.Errorf("load activity %s: decode samples: %w", id, err)
	}
	activity.DistanceLog = decoded.DistanceLog
	activity.HeartRateLog = decoded.HeartRateLog
	return activity, nil
}

// ActivityCount reports how many sessions are archived.
func (s *Store) ActivityCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM activities").Scan(&n); err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}
