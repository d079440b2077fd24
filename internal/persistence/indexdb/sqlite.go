package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"nightroad.app/internal/sim/game"
	"nightroad.app/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of the action journal. Writes go
// through a buffered queue drained by one goroutine; when the queue is full
// entries are dropped and counted, and the zstd journal stays the source of
// truth.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropActionTotal atomic.Uint64
	writeFailTotal  atomic.Uint64
	writtenTotal    atomic.Uint64
}

type req struct {
	action game.ActionLogEntry
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	WrittenTotal    uint64 `json:"written_total"`
	DropActionTotal uint64 `json:"drop_action_total"`
	WriteFailTotal  uint64 `json:"write_fail_total"`
}

const queueSize = 8192

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: uuid.NewString(),
		ch:    make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
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
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL lets the admin reader run next to the writer.
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at TEXT NOT NULL,
			world_id TEXT NOT NULL,
			action TEXT NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT NOT NULL,
			error TEXT NOT NULL,
			payload_json TEXT,
			UNIQUE (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_action ON actions(action, id);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action_id INTEGER NOT NULL REFERENCES actions(id),
			at TEXT NOT NULL,
			world_id TEXT NOT NULL,
			name TEXT NOT NULL,
			data_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RunID identifies this process in the actions table; seq restarts with it.
func (s *SQLiteIndex) RunID() string { return s.runID }

func (s *SQLiteIndex) WriteAction(entry game.ActionLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{action: entry}:
	default:
		s.dropActionTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		WrittenTotal:    s.writtenTotal.Load(),
		DropActionTotal: s.dropActionTotal.Load(),
		WriteFailTotal:  s.writeFailTotal.Load(),
	}
}

// UpsertCatalogs stores the tuning and world templates in effect, keyed by
// name, with a sha256 digest of each.
func (s *SQLiteIndex) UpsertCatalogs(tune tuning.Tuning, worlds map[string]any) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name string
		json []byte
	}
	var rows []kv
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", json: b})
	}
	for id, doc := range worlds {
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode template %s: %w", id, err)
		}
		rows = append(rows, kv{name: "template:" + id, json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		sum := sha256.Sum256(r.json)
		if _, err := stmt.Exec(r.name, hex.EncodeToString(sum[:]), string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(run_id,seq,at,world_id,action,ok,code,error,payload_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT INTO events(action_id,at,world_id,name,data_json) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertAction != nil {
			_ = insertAction.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFailTotal.Add(1)
		} else {
			s.writtenTotal.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		s.writeFailTotal.Add(1)
	}

	// An idle writer still commits so readers see the tail promptly.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil || insertAction == nil || insertEvent == nil {
				s.writeFailTotal.Add(1)
				continue
			}
			if err := s.insert(tx, insertAction, insertEvent, r.action); err != nil {
				rollback()
				continue
			}
			opCount++
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

func (s *SQLiteIndex) insert(tx *sql.Tx, insertAction, insertEvent *sql.Stmt, e game.ActionLogEntry) error {
	at := e.Time.UTC().Format(time.RFC3339Nano)
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	res, err := tx.Stmt(insertAction).Exec(
		s.runID,
		int64(e.Seq),
		at,
		e.WorldID,
		e.Action,
		boolInt(e.OK),
		e.Code,
		e.Error,
		payload,
	)
	if err != nil {
		return err
	}
	actionID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, ev := range e.Events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		if _, err := tx.Stmt(insertEvent).Exec(actionID, at, e.WorldID, ev.Name, string(data)); err != nil {
			return err
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
