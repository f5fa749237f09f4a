// Package config loads process configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"kanban-board/storage"
)

// Environment keys.
const (
	KeyStorageConnection = "STORAGE_CONNECTION_STRING"
	KeyTasksTable        = "TASKS_TABLE"
	KeyActivityTable     = "ACTIVITY_TABLE"
	KeyNotesTable        = "NOTES_TABLE"
	KeyDeliverablesTable = "DELIVERABLES_TABLE"
	KeyTriageQueue       = "TRIAGE_QUEUE"
	KeyRedisConnection   = "REDIS_CONNECTION_STRING"
	KeyChangesChannel    = "CHANGES_CHANNEL"
	KeyBoardID           = "BOARD_ID"
	KeyListenAddr        = "LISTEN_ADDR"
	KeyFunctionsPort     = "FUNCTIONS_CUSTOMHANDLER_PORT"
	KeyTasksCacheTTL     = "TASKS_CACHE_TTL"
	KeyDeduperTTL        = "DEDUPER_TTL"
	KeyActivityWorkers   = "ACTIVITY_WORKERS"
	KeyActivityBuffer    = "ACTIVITY_BUFFER"
	KeyDebug             = "DEBUG"
)

// Config holds the settings shared by the board binaries.
type Config struct {
	StorageConnectionString string
	TasksTable              string
	ActivityTable           string
	NotesTable              string
	DeliverablesTable       string
	TriageQueue             string
	RedisConnectionString   string
	ChangesChannel          string
	BoardID                 string
	ListenAddr              string
	TasksCacheTTL           time.Duration
	DeduperTTL              time.Duration
	ActivityWorkers         int
	ActivityBuffer          int
	Debug                   bool
}

// New returns a viper instance reading the environment with defaults applied.
// Callers may bind command-line flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(KeyTasksTable, "tasks")
	v.SetDefault(KeyActivityTable, "activitylogs")
	v.SetDefault(KeyNotesTable, "notes")
	v.SetDefault(KeyDeliverablesTable, "deliverables")
	v.SetDefault(KeyTriageQueue, "triage-requests")
	v.SetDefault(KeyChangesChannel, "board-changes")
	v.SetDefault(KeyBoardID, "board")
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyTasksCacheTTL, 30*time.Second)
	v.SetDefault(KeyDeduperTTL, 24*time.Hour)
	v.SetDefault(KeyActivityWorkers, 4)
	v.SetDefault(KeyActivityBuffer, 256)
	v.SetDefault(KeyDebug, false)
	return v
}

// Load reads the configuration from v, or from a fresh New() when v is nil.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = New()
	}
	cfg := Config{
		StorageConnectionString: strings.TrimSpace(v.GetString(KeyStorageConnection)),
		TasksTable:              v.GetString(KeyTasksTable),
		ActivityTable:           v.GetString(KeyActivityTable),
		NotesTable:              v.GetString(KeyNotesTable),
		DeliverablesTable:       v.GetString(KeyDeliverablesTable),
		TriageQueue:             v.GetString(KeyTriageQueue),
		RedisConnectionString:   strings.TrimSpace(v.GetString(KeyRedisConnection)),
		ChangesChannel:          v.GetString(KeyChangesChannel),
		BoardID:                 v.GetString(KeyBoardID),
		ListenAddr:              v.GetString(KeyListenAddr),
		TasksCacheTTL:           v.GetDuration(KeyTasksCacheTTL),
		DeduperTTL:              v.GetDuration(KeyDeduperTTL),
		ActivityWorkers:         v.GetInt(KeyActivityWorkers),
		ActivityBuffer:          v.GetInt(KeyActivityBuffer),
		Debug:                   v.GetBool(KeyDebug),
	}
	if port := strings.TrimSpace(v.GetString(KeyFunctionsPort)); port != "" {
		cfg.ListenAddr = ":" + port
	}
	return cfg, cfg.Validate()
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	required := map[string]string{
		KeyStorageConnection: c.StorageConnectionString,
		KeyTasksTable:        c.TasksTable,
		KeyActivityTable:     c.ActivityTable,
		KeyNotesTable:        c.NotesTable,
		KeyDeliverablesTable: c.DeliverablesTable,
		KeyBoardID:           c.BoardID,
	}
	for _, key := range []string{KeyStorageConnection, KeyTasksTable, KeyActivityTable, KeyNotesTable, KeyDeliverablesTable, KeyBoardID} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("missing %s", key))
		}
	}
	if c.TasksCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must not be negative", KeyTasksCacheTTL))
	}
	if c.DeduperTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be greater than zero", KeyDeduperTTL))
	}
	if c.ActivityWorkers <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be greater than zero", KeyActivityWorkers))
	}
	if c.ActivityBuffer < 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must not be negative", KeyActivityBuffer))
	}
	return errors.Join(errs...)
}

// StorageOptions returns the table and queue names for storage.New.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		ConnectionString:  c.StorageConnectionString,
		BoardID:           c.BoardID,
		TasksTable:        c.TasksTable,
		ActivityTable:     c.ActivityTable,
		NotesTable:        c.NotesTable,
		DeliverablesTable: c.DeliverablesTable,
		TriageQueue:       c.TriageQueue,
	}
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure form "host:port,password=...,ssl=true" are accepted.
func (c Config) RedisOptions() (*redis.Options, error) {
	return ParseRedis(c.RedisConnectionString)
}

// ParseRedis parses a Redis connection string.
func ParseRedis(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("missing %s", KeyRedisConnection)
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid %s", KeyRedisConnection)
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
