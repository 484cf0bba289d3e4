// Package builddb is the durable store for build plans, placed primitives
// and credit balances, on a single sqlite file. Placement debit+append runs
// in one transaction so the world and the ledger can never disagree.
package builddb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"monworld.ai/internal/sim/economy"
	"monworld.ai/internal/sim/engine"
	"monworld.ai/internal/sim/shapes"
)

type DB struct {
	db *sql.DB

	// seed balance credited to actors on first sight
	seedCredits int
}

func Open(path string, seedCredits int) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, seedCredits: seedCredits}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style placement workload; NORMAL is a decent
	// durability/perf tradeoff for a world store that the clients retry
	// against anyway.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			actor_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_updated ON plans(updated_at);`,
		`CREATE TABLE IF NOT EXISTS primitives (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			shape TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_primitives_xz ON primitives(x, z);`,
		`CREATE INDEX IF NOT EXISTS idx_primitives_owner ON primitives(owner_id);`,
		`CREATE TABLE IF NOT EXISTS credits (
			actor_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

// --- PlanStore ---

func (d *DB) Upsert(actorID string, p engine.Plan, expectVersion uint64) (uint64, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var cur uint64
	err = tx.QueryRow(`SELECT version FROM plans WHERE actor_id=?`, actorID).Scan(&cur)
	switch {
	case err == sql.ErrNoRows:
		if expectVersion != 0 {
			return 0, engine.ErrVersionConflict
		}
		if _, err := tx.Exec(`INSERT INTO plans(actor_id,plan_id,version,json,updated_at) VALUES(?,?,?,?,?)`,
			actorID, p.ID, 1, string(b), now); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return 1, nil
	case err != nil:
		return 0, err
	}

	if expectVersion == 0 || cur != expectVersion {
		return 0, engine.ErrVersionConflict
	}
	next := cur + 1
	if _, err := tx.Exec(`UPDATE plans SET plan_id=?, version=?, json=?, updated_at=? WHERE actor_id=? AND version=?`,
		p.ID, next, string(b), now, actorID, cur); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (d *DB) Delete(actorID string) error {
	_, err := d.db.Exec(`DELETE FROM plans WHERE actor_id=?`, actorID)
	return err
}

func (d *DB) LoadActiveWithin(ttl time.Duration) ([]engine.StoredPlan, error) {
	cutoff := time.Now().UTC().Add(-ttl).Format(time.RFC3339Nano)
	rows, err := d.db.Query(`SELECT version, json, updated_at FROM plans WHERE updated_at >= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.StoredPlan
	for rows.Next() {
		var (
			version   uint64
			raw       string
			updatedAt string
		)
		if err := rows.Scan(&version, &raw, &updatedAt); err != nil {
			return nil, err
		}
		var p engine.Plan
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.ID, err)
		}
		at, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, engine.StoredPlan{Plan: p, Version: version, UpdatedAt: at})
	}
	return out, rows.Err()
}

func (d *DB) PurgeOlder(ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl).Format(time.RFC3339Nano)
	res, err := d.db.Exec(`DELETE FROM plans WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// BackdatePlan rewrites a plan row's updated_at; test helper for TTL
// behavior.
func (d *DB) BackdatePlan(actorID string, at time.Time) error {
	_, err := d.db.Exec(`UPDATE plans SET updated_at=? WHERE actor_id=?`,
		at.UTC().Format(time.RFC3339Nano), actorID)
	return err
}

// --- PrimitiveStore ---

func (d *DB) Append(p shapes.Primitive) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`INSERT INTO primitives(id,owner_id,shape,x,y,z,json,created_at) VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, string(p.Shape), p.Position.X, p.Position.Y, p.Position.Z,
		string(b), p.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (d *DB) AllNear(pos shapes.Vec3, radius float64) ([]shapes.Primitive, error) {
	rows, err := d.db.Query(`SELECT json FROM primitives WHERE x BETWEEN ? AND ? AND z BETWEEN ? AND ?`,
		pos.X-radius, pos.X+radius, pos.Z-radius, pos.Z+radius)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shapes.Primitive
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p shapes.Primitive
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Ledger ---

func (d *DB) balanceTx(tx *sql.Tx, actorID string) (int, error) {
	var bal int
	err := tx.QueryRow(`SELECT balance FROM credits WHERE actor_id=?`, actorID).Scan(&bal)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO credits(actor_id,balance) VALUES(?,?)`, actorID, d.seedCredits); err != nil {
			return 0, err
		}
		return d.seedCredits, nil
	}
	if err != nil {
		return 0, err
	}
	return bal, nil
}

func (d *DB) CanAfford(actorID string, amount int) (bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	bal, err := d.balanceTx(tx, actorID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return bal >= amount, nil
}

func (d *DB) CheckAndDebit(actorID string, amount int) (bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	ok, err := d.debitTx(tx, actorID, amount)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, tx.Commit()
}

func (d *DB) debitTx(tx *sql.Tx, actorID string, amount int) (bool, error) {
	bal, err := d.balanceTx(tx, actorID)
	if err != nil {
		return false, err
	}
	if bal < amount {
		return false, nil
	}
	if _, err := tx.Exec(`UPDATE credits SET balance=? WHERE actor_id=?`, bal-amount, actorID); err != nil {
		return false, err
	}
	return true, nil
}

// SetBalance overwrites an actor's balance; admin/test helper.
func (d *DB) SetBalance(actorID string, n int) error {
	_, err := d.db.Exec(`INSERT OR REPLACE INTO credits(actor_id,balance) VALUES(?,?)`, actorID, n)
	return err
}

func (d *DB) Balance(actorID string) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	bal, err := d.balanceTx(tx, actorID)
	if err != nil {
		return 0, err
	}
	return bal, tx.Commit()
}

// --- Placer ---

// PlacePrimitive debits and appends in one transaction. Either both halves
// land or neither does.
func (d *DB) PlacePrimitive(actorID string, cost int, p shapes.Primitive) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := d.debitTx(tx, actorID, cost)
	if err != nil {
		return err
	}
	if !ok {
		return economy.ErrInsufficientCredits
	}
	if _, err := tx.Exec(`INSERT INTO primitives(id,owner_id,shape,x,y,z,json,created_at) VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, string(p.Shape), p.Position.X, p.Position.Y, p.Position.Z,
		string(b), p.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}
