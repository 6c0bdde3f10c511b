package applogger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"
)

// SettingsStore loads and saves settings. The client only calls Load during
// Start and Save when it had to generate an install id.
type SettingsStore interface {
	Load() (Settings, error)
	Save(Settings) error
}

// MemorySettingsStore keeps settings in memory.
type MemorySettingsStore struct {
	mutex    sync.Mutex
	settings Settings
}

func NewMemorySettingsStore(s Settings) *MemorySettingsStore {
	return &MemorySettingsStore{settings: s}
}

func (m *MemorySettingsStore) Load() (Settings, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.settings, nil
}

func (m *MemorySettingsStore) Save(s Settings) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.settings = s
	return nil
}

// YAMLSettingsStore keeps settings in a YAML file. A missing file loads as
// DefaultSettings.
type YAMLSettingsStore struct {
	path  string
	mutex sync.Mutex
}

func NewYAMLSettingsStore(path string) *YAMLSettingsStore {
	return &YAMLSettingsStore{path: path}
}

func (y *YAMLSettingsStore) Load() (Settings, error) {
	y.mutex.Lock()
	defer y.mutex.Unlock()

	s := DefaultSettings()
	data, err := os.ReadFile(y.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", y.path, err)
	}
	return s, nil
}

func (y *YAMLSettingsStore) Save(s Settings) error {
	y.mutex.Lock()
	defer y.mutex.Unlock()

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if dir := filepath.Dir(y.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	tmp := y.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return os.Rename(tmp, y.path)
}

// SQLiteSettingsStore keeps settings as key/value rows in a sqlite database.
type SQLiteSettingsStore struct {
	conn  *sql.DB
	mutex sync.Mutex
}

func OpenSQLiteSettingsStore(dbPath string) (*SQLiteSettingsStore, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	return &SQLiteSettingsStore{conn: conn}, nil
}

func (st *SQLiteSettingsStore) Close() error {
	if st.conn != nil {
		return st.conn.Close()
	}
	return nil
}

func (st *SQLiteSettingsStore) Load() (Settings, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	rows, err := st.conn.Query("SELECT key, value FROM settings")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Settings{}, err
	}

	s := DefaultSettings()
	if err := settingsFromValues(&s, values); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (st *SQLiteSettingsStore) Save(s Settings) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	tx, err := st.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, value := range settingsToValues(s) {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to store setting %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func settingsToValues(s Settings) map[string]string {
	return map[string]string{
		"api_token":                s.APIToken,
		"app_name":                 s.AppName,
		"app_version":              s.AppVersion,
		"host":                     s.Host,
		"install_id":               s.InstallID,
		"enable_analytics":         strconv.FormatBool(s.EnableAnalytics),
		"enable_crashes":           strconv.FormatBool(s.EnableCrashes),
		"enable_api":               strconv.FormatBool(s.EnableAPI),
		"log_level":                s.LogLevel.String(),
		"take_screenshot_on_error": strconv.FormatBool(s.TakeScreenshotOnError),
		"include_app_state":        strconv.FormatBool(s.IncludeAppState),
		"include_log_file":         strconv.FormatBool(s.IncludeLogFile),
	}
}

func settingsFromValues(s *Settings, values map[string]string) error {
	strs := map[string]*string{
		"api_token":   &s.APIToken,
		"app_name":    &s.AppName,
		"app_version": &s.AppVersion,
		"host":        &s.Host,
		"install_id":  &s.InstallID,
	}
	for key, dst := range strs {
		if v, ok := values[key]; ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"enable_analytics":         &s.EnableAnalytics,
		"enable_crashes":           &s.EnableCrashes,
		"enable_api":               &s.EnableAPI,
		"take_screenshot_on_error": &s.TakeScreenshotOnError,
		"include_app_state":        &s.IncludeAppState,
		"include_log_file":         &s.IncludeLogFile,
	}
	for key, dst := range bools {
		v, ok := values[key]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for setting %s: %w", key, err)
		}
		*dst = b
	}

	if v, ok := values["log_level"]; ok {
		level, err := ParseLevel(v)
		if err != nil {
			return err
		}
		s.LogLevel = level
	}
	return nil
}
