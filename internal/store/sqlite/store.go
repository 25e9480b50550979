// Package sqlite persists catalog items and image assets in an embedded
// SQLite database with upsert semantics keyed by item identifier.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dcarver/catcrawl/internal/clock/system"
	"github.com/dcarver/catcrawl/internal/crawl"
)

// flushThreshold is the number of buffered writes after which the open
// transaction is committed automatically.
const flushThreshold = 50

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	id_confidence TEXT NOT NULL,
	source_url    TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	brand         TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	price         TEXT NOT NULL DEFAULT '',
	currency      TEXT NOT NULL DEFAULT '',
	condition     TEXT NOT NULL DEFAULT '',
	seller        TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	specifics     TEXT NOT NULL DEFAULT '[]',
	raw_document  TEXT NOT NULL DEFAULT '',
	first_seen_at TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	item_id      TEXT NOT NULL,
	url          TEXT NOT NULL,
	position     INTEGER NOT NULL,
	is_primary   INTEGER NOT NULL DEFAULT 0,
	local_path   TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (item_id, url)
);

CREATE INDEX IF NOT EXISTS idx_images_item ON images(item_id);
`

const upsertItemSQL = `
INSERT INTO items (
	id, id_confidence, source_url, name, brand, model, category,
	price, currency, condition, seller, description, specifics,
	raw_document, first_seen_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	id_confidence = excluded.id_confidence,
	source_url    = excluded.source_url,
	name          = excluded.name,
	brand         = excluded.brand,
	model         = excluded.model,
	category      = excluded.category,
	price         = excluded.price,
	currency      = excluded.currency,
	condition     = excluded.condition,
	seller        = excluded.seller,
	description   = excluded.description,
	specifics     = excluded.specifics,
	raw_document  = excluded.raw_document,
	updated_at    = excluded.updated_at
`

// Re-crawls without downloads must not erase a local path recorded by an
// earlier run, hence the COALESCE/NULLIF dance.
const upsertImageSQL = `
INSERT INTO images (
	item_id, url, position, is_primary, local_path,
	content_type, width, height, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(item_id, url) DO UPDATE SET
	position     = excluded.position,
	is_primary   = excluded.is_primary,
	local_path   = COALESCE(NULLIF(excluded.local_path, ''), images.local_path),
	content_type = COALESCE(NULLIF(excluded.content_type, ''), images.content_type),
	width        = CASE WHEN excluded.width  > 0 THEN excluded.width  ELSE images.width  END,
	height       = CASE WHEN excluded.height > 0 THEN excluded.height ELSE images.height END,
	updated_at   = excluded.updated_at
`

// Store is a crawl.Store backed by a single SQLite file. Writes are
// buffered in one transaction and committed every flushThreshold writes;
// a writer mutex serializes the workers since SQLite allows one writer.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	clock  crawl.Clock

	mu      sync.Mutex
	tx      *sql.Tx
	pending int
}

// Open creates or opens the database at path and ensures the schema. WAL
// keeps readers unblocked while a crawl transaction is open.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		clock:  system.Clock{},
	}
	return s, nil
}

// UpsertItem inserts or fully replaces the item row; first_seen_at is kept
// from the first insert.
func (s *Store) UpsertItem(ctx context.Context, item *crawl.CatalogItem) error {
	specifics, err := json.Marshal(item.Specifics)
	if err != nil {
		return fmt.Errorf("encode specifics: %w", err)
	}
	if item.Specifics == nil {
		specifics = []byte("[]")
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, upsertItemSQL,
		item.ID, string(item.IDConfidence), item.SourceURL, item.Name,
		item.Brand, item.Model, item.Category, item.Price, item.Currency,
		item.Condition, item.Seller, item.Description, string(specifics),
		item.RawDocument, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return s.recordWriteLocked(ctx)
}

// UpsertImages writes the assets of one item in a single batch.
func (s *Store) UpsertImages(ctx context.Context, assets []crawl.ImageAsset) error {
	if len(assets) == 0 {
		return nil
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		_, err := tx.ExecContext(ctx, upsertImageSQL,
			asset.ItemID, asset.URL, asset.Position, asset.Primary,
			asset.LocalPath, asset.ContentType, asset.Width, asset.Height, now,
		)
		if err != nil {
			return fmt.Errorf("upsert image %s/%d: %w", asset.ItemID, asset.Position, err)
		}
	}
	return s.recordWriteLocked(ctx)
}

// Flush commits the open transaction, if any.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

// Close flushes buffered writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitLocked(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// CountItems reports the number of stored items. Used by the final run
// report and by tests.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	s.mu.Lock()
	if err := s.commitLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
	return n, err
}

func (s *Store) txLocked(ctx context.Context) (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	s.tx = tx
	s.pending = 0
	return tx, nil
}

func (s *Store) recordWriteLocked(ctx context.Context) error {
	s.pending++
	if s.pending < flushThreshold {
		return nil
	}
	s.logger.Debug("auto-committing write batch", zap.Int("writes", s.pending))
	return s.commitLocked()
}

func (s *Store) commitLocked() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.pending = 0
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetItem loads one item by identifier, or sql.ErrNoRows.
func (s *Store) GetItem(ctx context.Context, id string) (*crawl.CatalogItem, error) {
	s.mu.Lock()
	if err := s.commitLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
SELECT id, id_confidence, source_url, name, brand, model, category,
       price, currency, condition, seller, description, specifics, raw_document
FROM items WHERE id = ?`, id)

	var item crawl.CatalogItem
	var confidence, specifics string
	err := row.Scan(&item.ID, &confidence, &item.SourceURL, &item.Name,
		&item.Brand, &item.Model, &item.Category, &item.Price, &item.Currency,
		&item.Condition, &item.Seller, &item.Description, &specifics, &item.RawDocument)
	if err != nil {
		return nil, err
	}
	item.IDConfidence = crawl.IDConfidence(confidence)
	if err := json.Unmarshal([]byte(specifics), &item.Specifics); err != nil {
		return nil, fmt.Errorf("decode specifics for %s: %w", id, err)
	}
	return &item, nil
}

// GetImages loads the stored assets of one item ordered by position.
func (s *Store) GetImages(ctx context.Context, itemID string) ([]crawl.ImageAsset, error) {
	s.mu.Lock()
	if err := s.commitLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT item_id, url, position, is_primary, local_path, content_type, width, height
FROM images WHERE item_id = ? ORDER BY position`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []crawl.ImageAsset
	for rows.Next() {
		var a crawl.ImageAsset
		if err := rows.Scan(&a.ItemID, &a.URL, &a.Position, &a.Primary,
			&a.LocalPath, &a.ContentType, &a.Width, &a.Height); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

var _ crawl.Store = (*Store)(nil)
