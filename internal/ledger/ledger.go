// Package ledger provides an append-only history of device commands.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandSent   EventType = "command_sent"
	EventCommandFailed EventType = "command_failed"
	EventDiscovery     EventType = "discovery"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
	Source    string
	DeviceID  int
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, source string, deviceID int, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, device_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), time.Now().UTC().UnixNano(), string(payloadJSON), source, deviceID,
	)
	return err
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, device_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByDevice returns the command history of one device, newest first
func (l *Ledger) GetByDevice(deviceID int, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, device_id
		FROM event_ledger
		WHERE device_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixNano()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source sql.NullString
		var deviceID sql.NullInt64
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &deviceID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(0, timestamp).UTC()
		entry.Source = source.String
		entry.DeviceID = int(deviceID.Int64)

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
