// Package journal persists emitted events to sqlite for the external
// indexing collaborator. It is a sink only: nothing in the allocation core
// reads it back.
package journal

import (
	"database/sql"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/thesis/acre-allocator/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	at              INTEGER NOT NULL,
	destination     TEXT,
	owner           TEXT,
	asset           TEXT,
	receiver        TEXT,
	deposit_id      INTEGER,
	prev_deposit_id INTEGER,
	local_id        INTEGER,
	amount          TEXT,
	shares          TEXT,
	total           TEXT
);
CREATE INDEX IF NOT EXISTS events_kind_at ON events (kind, at);
`

// Journal writes one row per event. Attach starts the drain goroutine;
// Close detaches, flushes, and closes the database.
type Journal struct {
	db  *sql.DB
	log *zap.Logger

	mu  sync.Mutex
	sub event.Subscription
	ch  chan events.Event
	wg  sync.WaitGroup
}

func Open(path string, log *zap.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{db: db, log: log}, nil
}

// Attach subscribes to the emitter and drains it until Close.
func (j *Journal) Attach(em *events.Emitter) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ch = make(chan events.Event, 256)
	j.sub = em.Subscribe(j.ch)
	j.wg.Add(1)
	go j.drain()
}

// drain runs until Close unsubscribes and closes the channel, writing any
// events still buffered before exiting.
func (j *Journal) drain() {
	defer j.wg.Done()
	for ev := range j.ch {
		if err := j.Record(ev); err != nil {
			j.log.Warn("journal write failed",
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
}

// Record inserts a single event row. Exposed so tests and batch importers
// can write without a subscription.
func (j *Journal) Record(ev events.Event) error {
	_, err := j.db.Exec(
		`INSERT INTO events (id, kind, at, destination, owner, asset, receiver,
			deposit_id, prev_deposit_id, local_id, amount, shares, total)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.At.UnixNano(),
		hexOrEmpty(ev.Destination), hexOrEmpty(ev.Owner),
		hexOrEmpty(ev.Asset), hexOrEmpty(ev.Receiver),
		ev.DepositID, ev.PrevDepositID, ev.LocalID,
		decOrEmpty(ev.Amount), decOrEmpty(ev.Shares), decOrEmpty(ev.Total),
	)
	return err
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]events.Event, error) {
	rows, err := j.db.Query(
		`SELECT id, kind, at, destination, owner, asset, receiver,
			deposit_id, prev_deposit_id, local_id, amount, shares, total
		 FROM events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByKind returns up to limit events of one kind, newest first.
func (j *Journal) ByKind(kind events.Kind, limit int) ([]events.Event, error) {
	rows, err := j.db.Query(
		`SELECT id, kind, at, destination, owner, asset, receiver,
			deposit_id, prev_deposit_id, local_id, amount, shares, total
		 FROM events WHERE kind = ? ORDER BY at DESC LIMIT ?`, string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	if j.sub != nil {
		j.sub.Unsubscribe()
		close(j.ch)
		j.sub = nil
	}
	j.mu.Unlock()
	j.wg.Wait()
	return j.db.Close()
}

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var ev events.Event
		var kind string
		var at int64
		var dest, owner, asset, receiver string
		var amount, shares, total string
		if err := rows.Scan(&ev.ID, &kind, &at, &dest, &owner, &asset, &receiver,
			&ev.DepositID, &ev.PrevDepositID, &ev.LocalID,
			&amount, &shares, &total); err != nil {
			return nil, err
		}
		ev.Kind = events.Kind(kind)
		ev.At = time.Unix(0, at).UTC()
		ev.Destination = common.HexToAddress(dest)
		ev.Owner = common.HexToAddress(owner)
		ev.Asset = common.HexToAddress(asset)
		ev.Receiver = common.HexToAddress(receiver)
		ev.Amount = bigOrNil(amount)
		ev.Shares = bigOrNil(shares)
		ev.Total = bigOrNil(total)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func hexOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func decOrEmpty(x *big.Int) string {
	if x == nil {
		return ""
	}
	return x.String()
}

func bigOrNil(s string) *big.Int {
	if s == "" {
		return nil
	}
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return x
}
