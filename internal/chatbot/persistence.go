package chatbot

import (
	"context"
	"fmt"
	"time"

	"ElicitChat/internal/session"
)

// loadSession loads a session from the database
func (cb *ChatBot) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var backendName string
	var startTime time.Time

	err := cb.db.QueryRowContext(ctx, "SELECT backend, start_time FROM sessions WHERE id = ?", sessionID).
		Scan(&backendName, &startTime)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	rows, err := cb.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY seq",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var t session.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	return session.Restore(sessionID, backendName, startTime, turns), nil
}

// saveSession replaces the stored transcript of the current session
func (cb *ChatBot) saveSession(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	sess := cb.session
	turns := sess.History()

	tx, err := cb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, start_time, backend) VALUES (?, ?, ?)",
		sess.ID, sess.StartTime, sess.Backend,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for i, t := range turns {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, seq, role, content, timestamp) VALUES (?, ?, ?, ?, ?)",
			sess.ID, i, string(t.Role), t.Content, t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	cb.logger.Info("session saved", "session_id", sess.ID, "message_count", len(turns))
	return nil
}
