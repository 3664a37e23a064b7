// Package cache provides the persistent plugin cache: opaque
// JSON-serializable entries keyed by (plugin, key) with a TTL, backed
// by SQLite.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sluicedev/sluice/internal/config"
)

// Entry is one cached value. Plugin and Key form the identity; Value
// holds the JSON-encoded payload.
type Entry struct {
	Plugin    string    `gorm:"primaryKey;size:64"`
	Key       string    `gorm:"primaryKey;size:255"`
	Value     string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index"`
}

// TableName keeps the table name stable across gorm versions.
func (Entry) TableName() string { return "cache_entries" }

// Cache is the store plus its cleanup schedule.
type Cache struct {
	db     *gorm.DB
	logger *slog.Logger
	cron   *cron.Cron
}

// New opens (or creates) the cache database. An empty path keeps the
// cache in memory for the process lifetime.
func New(cfg config.CacheConfig, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "cache"))

	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		// Pure Go SQLite driver takes PRAGMAs as DSN parameters.
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep +
			"_pragma=busy_timeout(5000)" +
			"&_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}

	c := &Cache{db: db, logger: log}

	if cfg.CleanupSchedule != "" {
		c.cron = cron.New(cron.WithParser(cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		)))
		if _, err := c.cron.AddFunc(cfg.CleanupSchedule, c.runCleanup); err != nil {
			return nil, fmt.Errorf("invalid cache cleanup schedule %q: %w", cfg.CleanupSchedule, err)
		}
		c.cron.Start()
	}
	return c, nil
}

// Set stores a value under (plugin, key) with the given TTL. A zero or
// negative TTL removes the entry.
func (c *Cache) Set(plugin, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(plugin, key)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	entry := Entry{
		Plugin:    plugin,
		Key:       key,
		Value:     string(payload),
		ExpiresAt: time.Now().Add(ttl),
	}
	return c.db.Save(&entry).Error
}

// Get loads the value under (plugin, key) into dest. It reports
// whether a live entry was found; expired entries are treated as
// absent.
func (c *Cache) Get(plugin, key string, dest any) (bool, error) {
	var entry Entry
	err := c.db.First(&entry, "plugin = ? AND key = ?", plugin, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Now().After(entry.ExpiresAt) {
		return false, nil
	}
	if err := json.Unmarshal([]byte(entry.Value), dest); err != nil {
		return false, fmt.Errorf("decoding cache value: %w", err)
	}
	return true, nil
}

// Delete removes the entry under (plugin, key).
func (c *Cache) Delete(plugin, key string) error {
	return c.db.Delete(&Entry{}, "plugin = ? AND key = ?", plugin, key).Error
}

// Prune removes all expired entries and returns how many went away.
func (c *Cache) Prune() (int64, error) {
	res := c.db.Delete(&Entry{}, "expires_at <= ?", time.Now())
	return res.RowsAffected, res.Error
}

func (c *Cache) runCleanup() {
	n, err := c.Prune()
	if err != nil {
		c.logger.Warn("cache cleanup failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		c.logger.Debug("pruned expired cache entries", slog.Int64("count", n))
	}
}

// Close stops the cleanup schedule and closes the database.
func (c *Cache) Close() error {
	if c.cron != nil {
		c.cron.Stop()
	}
	db, err := c.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
