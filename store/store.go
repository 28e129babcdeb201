// Package store is the SQLite persistence layer: users, watches, the
// append-only price observation and click logs, and the global price cache.
// Statements are prepared once at open; transactions are short.
package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"mandi-monitor/monitor/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS users(
	id INT NOT NULL PRIMARY KEY,
	created_at INT NOT NULL
);
CREATE TABLE IF NOT EXISTS watches(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INT NOT NULL REFERENCES users(id),
	keywords TEXT NOT NULL,
	brand TEXT NOT NULL DEFAULT '',
	max_price INT NOT NULL DEFAULT 0,
	min_discount INT NOT NULL DEFAULT 0,
	asin TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	created_at INT NOT NULL
);
CREATE TABLE IF NOT EXISTS price_observations(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	watch_id INT NOT NULL REFERENCES watches(id) ON DELETE CASCADE,
	asin TEXT NOT NULL,
	price INT NOT NULL,
	source TEXT NOT NULL,
	fetched_at INT NOT NULL
);
CREATE TABLE IF NOT EXISTS clicks(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	watch_id INT NOT NULL REFERENCES watches(id) ON DELETE CASCADE,
	asin TEXT NOT NULL,
	clicked_at INT NOT NULL
);
CREATE TABLE IF NOT EXISTS price_cache(
	asin TEXT NOT NULL PRIMARY KEY,
	price INT NOT NULL,
	fetched_at INT NOT NULL
);
`

type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	ensureUser     *sql.Stmt
	insertWatch    *sql.Stmt
	watchesByMode  *sql.Stmt
	setWatchMode   *sql.Stmt
	getWatch       *sql.Stmt
	insertObs      *sql.Stmt
	insertClick    *sql.Stmt
	getCache       *sql.Stmt
	upsertCache    *sql.Stmt
	observationCSV *sql.Stmt
}

// Open opens (creating if necessary) the database at path. Foreign keys are
// enforced so observation and click rows follow their watch.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{
		db:     db,
		logger: logger.With().Str("module", "store").Logger(),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		s.logger.Error().Err(err).Msg("failed to create tables")
		return err
	}

	stmts := []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.ensureUser, `INSERT INTO users(id, created_at) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`},
		{&s.insertWatch, `INSERT INTO watches(user_id, keywords, brand, max_price, min_discount, asin, mode, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.watchesByMode, `SELECT id, user_id, keywords, brand, max_price, min_discount, asin, mode, created_at
			FROM watches WHERE mode = ? ORDER BY id`},
		{&s.setWatchMode, `UPDATE watches SET mode = ? WHERE id = ?`},
		{&s.getWatch, `SELECT id, user_id, keywords, brand, max_price, min_discount, asin, mode, created_at
			FROM watches WHERE id = ?`},
		{&s.insertObs, `INSERT INTO price_observations(watch_id, asin, price, source, fetched_at) VALUES(?, ?, ?, ?, ?)`},
		{&s.insertClick, `INSERT INTO clicks(watch_id, asin, clicked_at) VALUES(?, ?, ?)`},
		{&s.getCache, `SELECT price, fetched_at FROM price_cache WHERE asin = ?`},
		{&s.upsertCache, `INSERT INTO price_cache(asin, price, fetched_at) VALUES(?, ?, ?)
			ON CONFLICT(asin) DO UPDATE SET price = excluded.price, fetched_at = excluded.fetched_at`},
		{&s.observationCSV, `SELECT id, watch_id, asin, price, source, fetched_at FROM price_observations ORDER BY id`},
	}
	for _, st := range stmts {
		prepared, err := s.db.Prepare(st.sql)
		if err != nil {
			s.logger.Error().Err(err).Str("stmt", st.sql).Msg("failed to prepare statement")
			return err
		}
		*st.dst = prepared
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUser records the chat user on first interaction; repeats are no-ops.
func (s *Store) EnsureUser(ctx context.Context, userID int64) error {
	_, err := s.ensureUser.ExecContext(ctx, userID, time.Now().Unix())
	return err
}

// CreateWatch persists a validated watch and returns its id.
func (s *Store) CreateWatch(ctx context.Context, w types.Watch) (int64, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.insertWatch.ExecContext(ctx,
		w.UserID, w.Keywords, w.Brand, int64(w.MaxPrice), w.MinDiscount, w.ASIN, string(w.Mode), createdAt.Unix())
	if err != nil {
		s.logger.Error().Err(err).Int64("user", w.UserID).Msg("failed to insert watch")
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetWatch(ctx context.Context, id int64) (types.Watch, error) {
	return scanWatch(s.getWatch.QueryRowContext(ctx, id))
}

// ListWatchesByMode returns all watches of a scheduler family in id order.
func (s *Store) ListWatchesByMode(ctx context.Context, mode types.Mode) ([]types.Watch, error) {
	rows, err := s.watchesByMode.QueryContext(ctx, string(mode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWatchMode persists a mode change; the scheduler swap is the
// caller's responsibility and happens after the write succeeds.
func (s *Store) UpdateWatchMode(ctx context.Context, watchID int64, mode types.Mode) error {
	_, err := s.setWatchMode.ExecContext(ctx, string(mode), watchID)
	return err
}

// AddPriceObservation appends to the observation log. Only live sources are
// recordable and the price must be positive.
func (s *Store) AddPriceObservation(ctx context.Context, watchID int64, asin string, price types.Paise, source types.PriceSource, at time.Time) error {
	if source != types.SourceAPI && source != types.SourceScrape {
		return fmt.Errorf("store: observation source must be api or scrape, got %q", source)
	}
	if price <= 0 {
		return fmt.Errorf("store: observation price must be positive, got %d", price)
	}
	_, err := s.insertObs.ExecContext(ctx, watchID, asin, int64(price), string(source), at.Unix())
	if err != nil {
		s.logger.Error().Err(err).Int64("watch", watchID).Str("asin", asin).Msg("failed to store observation")
	}
	return err
}

// AddClick appends to the click log when a user follows a card's link.
func (s *Store) AddClick(ctx context.Context, watchID int64, asin string, at time.Time) error {
	_, err := s.insertClick.ExecContext(ctx, watchID, asin, at.Unix())
	if err != nil {
		s.logger.Error().Err(err).Int64("watch", watchID).Str("asin", asin).Msg("failed to store click")
	}
	return err
}

// GetCachedPrice reads the cache entry for asin. The third return reports
// whether an entry exists at all; freshness is the caller's policy.
func (s *Store) GetCachedPrice(ctx context.Context, asin string) (types.Paise, time.Time, bool, error) {
	var price, fetchedAt int64
	err := s.getCache.QueryRowContext(ctx, asin).Scan(&price, &fetchedAt)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return types.Paise(price), time.Unix(fetchedAt, 0), true, nil
}

// UpsertCachedPrice writes the cache entry for asin. Idempotent; rejects
// non-positive prices so partial extractions cannot poison the cache.
func (s *Store) UpsertCachedPrice(ctx context.Context, asin string, price types.Paise, fetchedAt time.Time) error {
	if !price.Valid() {
		return fmt.Errorf("store: refusing to cache invalid price %d for %s", price, asin)
	}
	_, err := s.upsertCache.ExecContext(ctx, asin, int64(price), fetchedAt.Unix())
	return err
}

// Metrics are the admin surface's integer counts.
type Metrics struct {
	Users              int64 `json:"users"`
	WatchCreators      int64 `json:"watch_creators"`
	LiveWatches        int64 `json:"live_watches"`
	Clicks             int64 `json:"clicks"`
	ScrapeObservations int64 `json:"scrape_observations"`
}

func (s *Store) Metrics(ctx context.Context) (Metrics, error) {
	var m Metrics
	counts := []struct {
		dst *int64
		sql string
	}{
		{&m.Users, `SELECT COUNT(*) FROM users`},
		{&m.WatchCreators, `SELECT COUNT(DISTINCT user_id) FROM watches`},
		{&m.LiveWatches, `SELECT COUNT(*) FROM watches`},
		{&m.Clicks, `SELECT COUNT(*) FROM clicks`},
		{&m.ScrapeObservations, `SELECT COUNT(*) FROM price_observations WHERE source = 'scrape'`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.sql).Scan(c.dst); err != nil {
			return Metrics{}, err
		}
	}
	return m, nil
}

// WritePricesCSV streams the observation log in insertion order. Timestamps
// are ISO-8601 UTC.
func (s *Store) WritePricesCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.observationCSV.QueryContext(ctx)
	if err != nil {
		return err
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "watch_id", "asin", "price", "source", "fetched_at"}); err != nil {
		return err
	}
	for rows.Next() {
		var id, watchID, price, fetchedAt int64
		var asin, source string
		if err := rows.Scan(&id, &watchID, &asin, &price, &source, &fetchedAt); err != nil {
			return err
		}
		record := []string{
			strconv.FormatInt(id, 10),
			strconv.FormatInt(watchID, 10),
			asin,
			strconv.FormatInt(price, 10),
			source,
			time.Unix(fetchedAt, 0).UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatch(row rowScanner) (types.Watch, error) {
	var w types.Watch
	var maxPrice, createdAt int64
	var mode string
	err := row.Scan(&w.ID, &w.UserID, &w.Keywords, &w.Brand, &maxPrice, &w.MinDiscount, &w.ASIN, &mode, &createdAt)
	if err != nil {
		return types.Watch{}, err
	}
	w.MaxPrice = types.Paise(maxPrice)
	w.Mode = types.Mode(mode)
	w.CreatedAt = time.Unix(createdAt, 0)
	return w, nil
}
