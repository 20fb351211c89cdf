package persistence

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodegate/nodegate/internal/invoke"
)

const recordBuffer = 256

// InvocationLog persists completed invoke records. Writes run on a single
// background goroutine so the invoke path never waits on sqlite; a full
// buffer drops the record rather than blocking.
type InvocationLog struct {
	db      *sql.DB
	records chan invoke.Record
	done    chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

func NewInvocationLog(db *sql.DB, logger zerolog.Logger) *InvocationLog {
	l := &InvocationLog{
		db:      db,
		records: make(chan invoke.Record, recordBuffer),
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "invocation_log").Logger(),
	}
	go l.writeLoop()
	return l
}

// Record implements invoke.Recorder.
func (l *InvocationLog) Record(rec invoke.Record) {
	select {
	case l.records <- rec:
	default:
		l.logger.Warn().Str("id", rec.ID).Msg("audit buffer full, dropping record")
	}
}

// Close stops the writer after draining buffered records.
func (l *InvocationLog) Close() {
	l.once.Do(func() { close(l.records) })
	<-l.done
}

func (l *InvocationLog) writeLoop() {
	defer close(l.done)
	for rec := range l.records {
		if err := l.insert(rec); err != nil {
			l.logger.Error().Err(err).Str("id", rec.ID).Msg("failed to persist invocation")
		}
	}
}

func (l *InvocationLog) insert(rec invoke.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO invocations (id, node_id, command, ok, code, duration_ms, completed_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.NodeID, rec.Command, boolToInt(rec.OK), rec.Code,
		rec.Duration.Milliseconds(), rec.CompletedAt.UnixMilli(),
	)
	return err
}

// InvocationRow is one persisted audit entry as served by the operator API.
type InvocationRow struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id"`
	Command     string `json:"command"`
	OK          bool   `json:"ok"`
	Code        string `json:"code,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	CompletedAt int64  `json:"completed_at_unix_ms"`
}

// ListRecent returns up to limit records, newest first, optionally filtered
// by node id.
func (l *InvocationLog) ListRecent(ctx context.Context, nodeID string, limit int) ([]InvocationRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if nodeID == "" {
		rows, err = l.db.QueryContext(ctx,
			`SELECT id, node_id, command, ok, code, duration_ms, completed_at_unix_ms
			 FROM invocations ORDER BY completed_at_unix_ms DESC LIMIT ?`, limit)
	} else {
		rows, err = l.db.QueryContext(ctx,
			`SELECT id, node_id, command, ok, code, duration_ms, completed_at_unix_ms
			 FROM invocations WHERE node_id = ? ORDER BY completed_at_unix_ms DESC LIMIT ?`, nodeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]InvocationRow, 0, limit)
	for rows.Next() {
		var row InvocationRow
		var ok int
		if err := rows.Scan(&row.ID, &row.NodeID, &row.Command, &ok, &row.Code, &row.DurationMS, &row.CompletedAt); err != nil {
			return nil, err
		}
		row.OK = ok != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
