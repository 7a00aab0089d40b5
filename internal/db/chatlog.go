package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/util"
)

// ChatMessage is one logged chat packet.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	Sender    string    `json:"sender"`
	SenderID  int32     `json:"sender_id"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	Rewritten bool      `json:"rewritten"`
	Time      time.Time `json:"time"`
}

// ExchangeSummary aggregates logged exchanges.
type ExchangeSummary struct {
	Total       int64         `json:"total"`
	Failed      int64         `json:"failed"`
	Bancho      int64         `json:"bancho"`
	PacketsIn   int64         `json:"packets_in"`
	PacketsOut  int64         `json:"packets_out"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// ChatLog persists chat messages and exchange records.
type ChatLog struct {
	db     *Database
	logger zerolog.Logger
}

// NewChatLog opens the database at dbPath and creates the schema.
func NewChatLog(dbPath string) (*ChatLog, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	cl := &ChatLog{db: database, logger: util.ComponentLogger("chatlog")}
	if err := cl.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate chat log: %w", err)
	}
	return cl, nil
}

func (cl *ChatLog) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			direction TEXT NOT NULL,
			kind TEXT NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			sender_id INTEGER NOT NULL DEFAULT 0,
			recipient TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			rewritten INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(created_at);

		CREATE TABLE IF NOT EXISTS exchanges (
			request_id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			host TEXT NOT NULL,
			path TEXT NOT NULL,
			backend TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			bancho INTEGER NOT NULL DEFAULT 0,
			packets_in INTEGER NOT NULL DEFAULT 0,
			packets_out INTEGER NOT NULL DEFAULT 0,
			duration_us INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			completed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exchanges_completed ON exchanges(completed_at);
	`
	_, err := cl.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (cl *ChatLog) Close() error {
	return cl.db.Close()
}

// RecordMessage stores a chat message.
func (cl *ChatLog) RecordMessage(m events.ChatMessagePayload) error {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	_, err := cl.db.Exec(`
		INSERT INTO chat_messages (direction, kind, sender, sender_id, recipient, text, rewritten, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Direction, m.Kind, m.Sender, m.SenderID, m.Recipient, m.Text, m.Rewritten, m.Time.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record chat message: %w", err)
	}
	return nil
}

// RecordExchange stores an exchange record. A repeated request id replaces
// the earlier row.
func (cl *ChatLog) RecordExchange(e events.ExchangePayload) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	_, err := cl.db.Exec(`
		INSERT OR REPLACE INTO exchanges
			(request_id, method, host, path, backend, status, bancho, packets_in, packets_out, duration_us, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Method, e.Host, e.Path, e.Backend, e.Status, e.Bancho,
		e.PacketsIn, e.PacketsOut, e.Duration.Microseconds(), e.Error, e.CompletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func (cl *ChatLog) RecentMessages(limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := cl.db.Query(`
		SELECT id, direction, kind, sender, sender_id, recipient, text, rewritten, created_at
		FROM chat_messages ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	messages := []ChatMessage{}
	for rows.Next() {
		var (
			m  ChatMessage
			ms int64
		)
		if err := rows.Scan(&m.ID, &m.Direction, &m.Kind, &m.Sender, &m.SenderID, &m.Recipient, &m.Text, &m.Rewritten, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.Time = time.UnixMilli(ms)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Summary aggregates exchanges completed at or after since.
func (cl *ChatLog) Summary(since time.Time) (ExchangeSummary, error) {
	var (
		s     ExchangeSummary
		avgUS sql.NullFloat64
	)
	err := cl.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(bancho), 0),
			COALESCE(SUM(packets_in), 0),
			COALESCE(SUM(packets_out), 0),
			AVG(duration_us)
		FROM exchanges WHERE completed_at >= ?`, since.UnixMilli()).
		Scan(&s.Total, &s.Failed, &s.Bancho, &s.PacketsIn, &s.PacketsOut, &avgUS)
	if err != nil {
		return s, fmt.Errorf("failed to summarize exchanges: %w", err)
	}
	if avgUS.Valid {
		s.AvgDuration = time.Duration(avgUS.Float64) * time.Microsecond
	}
	return s, nil
}

// Prune deletes messages and exchanges older than cutoff and returns the
// number of rows removed.
func (cl *ChatLog) Prune(cutoff time.Time) (int64, error) {
	var removed int64
	err := cl.db.Transaction(func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM chat_messages WHERE created_at < ?`,
			`DELETE FROM exchanges WHERE completed_at < ?`,
		} {
			res, err := tx.Exec(q, cutoff.UnixMilli())
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune chat log: %w", err)
	}
	if removed > 0 {
		cl.logger.Info().Int64("rows", removed).Time("cutoff", cutoff).Msg("pruned chat log")
	}
	return removed, nil
}

// Subscribe records chat and exchange events from bus.
func (cl *ChatLog) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventChatMessage, "chatlog", func(ctx context.Context, e events.Event) error {
		m, ok := e.Payload.(events.ChatMessagePayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return cl.RecordMessage(m)
	})

	record := func(ctx context.Context, e events.Event) error {
		x, ok := e.Payload.(events.ExchangePayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return cl.RecordExchange(x)
	}
	bus.Subscribe(events.EventExchangeCompleted, "chatlog", record)
	bus.Subscribe(events.EventExchangeFailed, "chatlog", record)
}
