// Package outbox keeps an append-only JSON-lines journal of approved
// orders and the fills the ledger booked for them.
package outbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rajchodisetti/signal-trader/internal/observ"
)

const (
	StatusApproved = "approved"
	StatusFailed   = "failed"
)

const (
	EntryOrder = "order"
	EntryFill  = "fill"
)

type Order struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	Intent         string    `json:"intent"`
	Quantity       int64     `json:"quantity"`
	Price          float64   `json:"price"`
	Confidence     float64   `json:"confidence"`
	Source         string    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type Fill struct {
	OrderID     string    `json:"order_id"`
	TxID        string    `json:"tx_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price"`
	Fees        float64   `json:"fees"`
	RealizedPnL float64   `json:"realized_pnl"`
	CashAfter   float64   `json:"cash_after"`
	Timestamp   time.Time `json:"timestamp"`
	LatencyMs   int64     `json:"latency_ms"`
}

// Entry is one journal line. Data holds an Order or a Fill depending on
// Type.
type Entry struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

type Outbox struct {
	mu           sync.Mutex
	path         string
	dedupeWindow time.Duration
	now          func() time.Time
}

// New creates the journal directory. Orders older than dedupeWindow are
// ignored by HasRecentOrder.
func New(path string, dedupeWindow time.Duration, clock func() time.Time) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &Outbox{path: path, dedupeWindow: dedupeWindow, now: clock}, nil
}

func (o *Outbox) Path() string { return o.path }

func (o *Outbox) WriteOrder(order Order) error {
	return o.append(EntryOrder, order)
}

func (o *Outbox) WriteFill(fill Fill) error {
	return o.append(EntryFill, fill)
}

func (o *Outbox) append(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line, err := json.Marshal(Entry{Type: kind, Data: data, Event: o.now().UTC()})
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", kind, err)
	}
	observ.IncCounter("outbox_entries_total", map[string]string{"type": kind})
	return nil
}

// Entries reads the whole journal. Lines that do not parse are skipped.
func (o *Outbox) Entries() ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			observ.IncCounter("outbox_malformed_lines_total", nil)
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// Orders returns every order record in journal order.
func (o *Outbox) Orders() ([]Order, error) {
	entries, err := o.Entries()
	if err != nil {
		return nil, err
	}
	var out []Order
	for _, e := range entries {
		if e.Type != EntryOrder {
			continue
		}
		var ord Order
		if err := json.Unmarshal(e.Data, &ord); err != nil {
			continue
		}
		out = append(out, ord)
	}
	return out, nil
}

// Fills returns every fill record in journal order.
func (o *Outbox) Fills() ([]Fill, error) {
	entries, err := o.Entries()
	if err != nil {
		return nil, err
	}
	var out []Fill
	for _, e := range entries {
		if e.Type != EntryFill {
			continue
		}
		var f Fill
		if err := json.Unmarshal(e.Data, &f); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// HasRecentOrder reports whether an approved order with this key was
// journaled within the dedupe window.
func (o *Outbox) HasRecentOrder(idempotencyKey string) (bool, error) {
	entries, err := o.Entries()
	if err != nil {
		return false, err
	}
	cutoff := o.now().UTC().Add(-o.dedupeWindow)
	for _, e := range entries {
		if e.Type != EntryOrder || e.Event.Before(cutoff) {
			continue
		}
		var ord Order
		if err := json.Unmarshal(e.Data, &ord); err != nil {
			continue
		}
		if ord.IdempotencyKey == idempotencyKey && ord.Status == StatusApproved {
			return true, nil
		}
	}
	return false, nil
}
