// Package audit keeps a buffered trail of verification decisions and
// ships it to object storage at the end of a request batch or Lambda
// invocation.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/resumesite/oidc-gatekeeper/pkg/storage"
)

// Decision is one verification outcome.
type Decision struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"requestId,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	DurationMS int64     `json:"durationMs"`
}

// Trail buffers decisions in memory. A nil or disabled Trail is a
// no-op, so callers never need to branch on configuration.
type Trail struct {
	mu        sync.Mutex
	decisions []Decision
	store     storage.Store
	prefix    string
}

// NewTrail creates an enabled trail writing under the given key prefix.
func NewTrail(store storage.Store, prefix string) *Trail {
	return &Trail{store: store, prefix: prefix}
}

// Record appends a decision to the buffer.
func (t *Trail) Record(d Decision) {
	if t == nil {
		return
	}
	if d.Time.IsZero() {
		d.Time = time.Now()
	}

	t.mu.Lock()
	t.decisions = append(t.decisions, d)
	t.mu.Unlock()
}

// Flush writes the buffered decisions as one JSON-lines object and
// clears the buffer. Flushing an empty or nil trail does nothing.
func (t *Trail) Flush(ctx context.Context) error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	batch := t.decisions
	t.decisions = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range batch {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to encode audit record: %w", err)
		}
	}

	key := t.objectKey(batch[0].Time)
	if err := t.store.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("failed to write audit trail: %w", err)
	}

	slog.Debug("Flushed audit trail", slog.String("key", key), slog.Int("decisions", len(batch)))
	return nil
}

// objectKey builds a date-partitioned key so trails stay queryable by day.
func (t *Trail) objectKey(at time.Time) string {
	name := fmt.Sprintf("%s-%s.jsonl", at.UTC().Format("20060102T150405Z"), uuid.New().String())
	if t.prefix == "" {
		return fmt.Sprintf("%s/%s", at.UTC().Format("2006/01/02"), name)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(t.prefix, "/"), at.UTC().Format("2006/01/02"), name)
}
