// Package stagecache stores outputs of cacheable stages keyed by content identity,
// so re-running a preset on the same source skips deterministic extraction work.
package stagecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru"
	_ "github.com/mattn/go-sqlite3"

	"github.com/five82/dovetail/internal/logging"
	"github.com/five82/dovetail/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS stage_cache (
	key        TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	path       TEXT NOT NULL,
	size       INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	last_used  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS stage_cache_last_used ON stage_cache(last_used);
`

// Entry is one cached stage output.
type Entry struct {
	Key       string
	Stage     string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Key derives the cache identity of a stage output from the stage and its input identities.
func Key(stageID, template string, inputKeys ...string) string {
	parts := append([]string{"stage:" + stageID, "tmpl:" + template}, inputKeys...)
	return util.StringChecksum(parts...)
}

// Cache is a SQLite-indexed blob directory with an in-memory LRU in front.
type Cache struct {
	dir    string
	db     *sql.DB
	front  *lru.Cache
	logger *logging.Logger
}

// Open opens or creates the cache under dir. entries bounds the in-memory front.
func Open(dir string, entries int, logger *logging.Logger) (*Cache, error) {
	if logger == nil {
		logger = logging.Global()
	}
	if entries < 1 {
		entries = 1
	}
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	// One connection keeps writers serialized.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure cache index (%s): %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	front, err := lru.New(entries)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Cache{
		dir:    dir,
		db:     db,
		front:  front,
		logger: logger.Component("stagecache"),
	}, nil
}

// Close closes the index.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the entry for key if its blob is still present and non-empty.
// Entries whose blob has vanished are evicted.
func (c *Cache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	if v, ok := c.front.Get(key); ok {
		e := v.(Entry)
		if util.NonEmptyFile(e.Path) {
			c.touch(ctx, key)
			return e, true, nil
		}
		c.front.Remove(key)
	}

	var (
		e       Entry
		created int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT key, stage, path, size, created_at FROM stage_cache WHERE key = ?`, key,
	).Scan(&e.Key, &e.Stage, &e.Path, &e.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	e.CreatedAt = time.Unix(created, 0)

	if !util.NonEmptyFile(e.Path) {
		c.logger.Debug("evicting cache entry with missing blob", "key", key, "stage", e.Stage)
		if err := c.remove(ctx, key); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}

	c.front.Add(key, e)
	c.touch(ctx, key)
	return e, true, nil
}

// Store copies the file at src into the cache under key and indexes it.
func (c *Cache) Store(ctx context.Context, key, stage, src string) (Entry, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Entry{}, fmt.Errorf("cache store: %w", err)
	}

	blob := c.blobPath(key, filepath.Ext(src))
	if err := util.EnsureDirectory(filepath.Dir(blob)); err != nil {
		return Entry{}, fmt.Errorf("cache store: %w", err)
	}
	if err := util.LinkOrCopy(src, blob); err != nil {
		return Entry{}, fmt.Errorf("cache store: %w", err)
	}

	now := time.Now()
	e := Entry{Key: key, Stage: stage, Path: blob, Size: info.Size(), CreatedAt: now.Truncate(time.Second)}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO stage_cache (key, stage, path, size, created_at, last_used)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET stage = excluded.stage, path = excluded.path,
		   size = excluded.size, created_at = excluded.created_at, last_used = excluded.last_used`,
		e.Key, e.Stage, e.Path, e.Size, now.Unix(), now.Unix())
	if err != nil {
		return Entry{}, fmt.Errorf("cache index write: %w", err)
	}
	c.front.Add(key, e)
	c.logger.Debug("cached stage output", "stage", stage, "key", short(key), "size", e.Size)
	return e, nil
}

// Materialize places the cached blob at dst, hard-linking when possible.
func (c *Cache) Materialize(e Entry, dst string) error {
	return util.LinkOrCopy(e.Path, dst)
}

// Len returns the number of indexed entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stage_cache`).Scan(&n)
	return n, err
}

// Size returns the total bytes of indexed blobs.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM stage_cache`).Scan(&n)
	return n, err
}

// Prune removes entries not used after cutoff, returning how many were removed.
// Recency is kept at one-second resolution.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key, path, size FROM stage_cache WHERE last_used <= ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	victims, err := scanVictims(rows)
	if err != nil {
		return 0, err
	}
	return c.evict(ctx, victims)
}

// Trim evicts least recently used entries until the blobs total at most maxBytes.
func (c *Cache) Trim(ctx context.Context, maxBytes int64) (int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key, path, size FROM stage_cache ORDER BY last_used DESC, rowid DESC`)
	if err != nil {
		return 0, err
	}
	all, err := scanVictims(rows)
	if err != nil {
		return 0, err
	}

	var total int64
	var victims []victim
	for _, v := range all {
		total += v.size
		if total > maxBytes {
			victims = append(victims, v)
		}
	}
	return c.evict(ctx, victims)
}

type victim struct {
	key, path string
	size      int64
}

func scanVictims(rows *sql.Rows) ([]victim, error) {
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.key, &v.path, &v.size); err != nil {
			_ = rows.Close()
			return nil, err
		}
		victims = append(victims, v)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return victims, rows.Err()
}

func (c *Cache) evict(ctx context.Context, victims []victim) (int, error) {
	for i, v := range victims {
		if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
			c.logger.Debug("failed to remove cache blob", "path", v.path, "error", err)
		}
		if err := c.remove(ctx, v.key); err != nil {
			return i, err
		}
	}
	return len(victims), nil
}

func (c *Cache) remove(ctx context.Context, key string) error {
	c.front.Remove(key)
	if _, err := c.db.ExecContext(ctx, `DELETE FROM stage_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache evict: %w", err)
	}
	return nil
}

func (c *Cache) touch(ctx context.Context, key string) {
	if _, err := c.db.ExecContext(ctx, `UPDATE stage_cache SET last_used = ? WHERE key = ?`, time.Now().Unix(), key); err != nil {
		c.logger.Debug("failed to update cache recency", "key", key, "error", err)
	}
}

func (c *Cache) blobPath(key, ext string) string {
	return filepath.Join(c.dir, "blobs", key[:2], key+ext)
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
