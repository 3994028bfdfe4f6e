package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/analyst-bot/internal/models"
)

//go:embed schema.sql
var migrations embed.FS

// sqlStore is the database/sql implementation shared by the postgres and
// sqlite stores. Queries are written with ? placeholders.
type sqlStore struct {
	db          *sql.DB
	numberedArg bool
}

func (s *sqlStore) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	for _, stmt := range strings.Split(string(migrationSQL), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error executing schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *sqlStore) rebind(query string) string {
	if !s.numberedArg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) sessionExists(ctx context.Context, q querier, sessionID string) error {
	var one int
	err := q.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM sessions WHERE id = ?`), sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("error looking up session: %w", err)
	}
	return nil
}

func (s *sqlStore) lastTurn(ctx context.Context, q querier, sessionID string) (int, error) {
	var last sql.NullInt64
	err := q.QueryRowContext(ctx, s.rebind(`SELECT MAX(turn) FROM messages WHERE session_id = ?`), sessionID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("error reading last turn: %w", err)
	}
	return int(last.Int64), nil
}

func (s *sqlStore) CreateSession(ctx context.Context, info models.SessionInfo) error {
	query := `
		INSERT INTO sessions (id, user_id, created_at, web_search, tier, semantic_model)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		info.ID,
		info.UserID,
		info.CreatedAt.UnixNano(),
		info.Toggles.WebSearch,
		string(info.Toggles.Tier),
		info.SemanticModel,
	)
	if err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}
	return nil
}

func (s *sqlStore) GetSession(ctx context.Context, sessionID string) (*models.SessionInfo, error) {
	query := `
		SELECT id, user_id, created_at, web_search, tier, semantic_model
		FROM sessions
		WHERE id = ?`

	info := &models.SessionInfo{}
	var created int64
	var tier string
	err := s.db.QueryRowContext(ctx, s.rebind(query), sessionID).Scan(
		&info.ID,
		&info.UserID,
		&created,
		&info.Toggles.WebSearch,
		&tier,
		&info.SemanticModel,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting session: %w", err)
	}
	info.CreatedAt = time.Unix(0, created).UTC()
	info.Toggles.Tier = models.Tier(tier)
	return info, nil
}

func (s *sqlStore) UpdateSession(ctx context.Context, info models.SessionInfo) error {
	query := `
		UPDATE sessions
		SET web_search = ?, tier = ?, semantic_model = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, s.rebind(query),
		info.Toggles.WebSearch, string(info.Toggles.Tier), info.SemanticModel, info.ID)
	if err != nil {
		return fmt.Errorf("error updating session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *sqlStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.deleteHistory(ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = ?`), sessionID); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) ClearSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.sessionExists(ctx, tx, sessionID); err != nil {
		return err
	}
	if err := s.deleteHistory(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) deleteHistory(ctx context.Context, tx *sql.Tx, sessionID string) error {
	for _, table := range []string{"messages", "classifications", "invocations", "performance"} {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE session_id = ?"), sessionID); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}
	return nil
}

func (s *sqlStore) CommitTurn(ctx context.Context, rec *models.TurnRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.sessionExists(ctx, tx, rec.SessionID); err != nil {
		return err
	}
	last, err := s.lastTurn(ctx, tx, rec.SessionID)
	if err != nil {
		return err
	}
	if rec.Turn != last+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrTurnOutOfOrder, rec.Turn, last+1)
	}

	insertMessage := s.rebind(`
		INSERT INTO messages (session_id, turn, ord, role, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for ord, msg := range []models.Message{rec.UserMessage, rec.Reply} {
		if _, err := tx.ExecContext(ctx, insertMessage,
			rec.SessionID, rec.Turn, ord, string(msg.Role), msg.Text, msg.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("error inserting message: %w", err)
		}
	}

	keywords, err := json.Marshal(nonNil(rec.Classification.Keywords))
	if err != nil {
		return fmt.Errorf("error encoding keywords: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO classifications (session_id, turn, category, confidence, rationale, source, keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.SessionID, rec.Turn,
		string(rec.Classification.Category),
		rec.Classification.Confidence,
		rec.Classification.Rationale,
		string(rec.Classification.Source),
		string(keywords),
	)
	if err != nil {
		return fmt.Errorf("error inserting classification: %w", err)
	}

	insertInvocation := s.rebind(`
		INSERT INTO invocations (session_id, turn, seq, capability, success, latency_ns, input, output, error, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, inv := range rec.Invocations {
		r := inv.Record(rec.Turn)
		if _, err := tx.ExecContext(ctx, insertInvocation,
			rec.SessionID, r.Turn, r.Seq, string(r.Capability), r.Success, int64(r.Latency),
			r.Input, r.Output, r.Error, string(r.ErrKind)); err != nil {
			return fmt.Errorf("error inserting invocation %d: %w", r.Seq, err)
		}
	}

	breakdown, err := json.Marshal(rec.Performance.Breakdown)
	if err != nil {
		return fmt.Errorf("error encoding breakdown: %w", err)
	}
	mix, err := json.Marshal(rec.Performance.Mix)
	if err != nil {
		return fmt.Errorf("error encoding mix: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO performance (session_id, turn, total_ns, breakdown, mix, semantic_model, success, rows_returned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.SessionID, rec.Turn,
		int64(rec.Performance.Total),
		string(breakdown),
		string(mix),
		rec.Performance.SemanticModel,
		rec.Performance.Success,
		rec.Performance.RowsReturned,
	)
	if err != nil {
		return fmt.Errorf("error inserting performance sample: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing turn: %w", err)
	}
	return nil
}

func (s *sqlStore) LastTurn(ctx context.Context, sessionID string) (int, error) {
	if err := s.sessionExists(ctx, s.db, sessionID); err != nil {
		return 0, err
	}
	return s.lastTurn(ctx, s.db, sessionID)
}

func (s *sqlStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	query := `
		SELECT turn, role, text, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY turn DESC, ord DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var created int64
		if err := rows.Scan(&msg.Turn, &role, &msg.Text, &created); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.Timestamp = time.Unix(0, created).UTC()
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *sqlStore) GetClassifications(ctx context.Context, sessionID string) ([]models.Classification, error) {
	query := `
		SELECT turn, category, confidence, rationale, source, keywords
		FROM classifications
		WHERE session_id = ?
		ORDER BY turn`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying classifications: %w", err)
	}
	defer rows.Close()

	var out []models.Classification
	for rows.Next() {
		var c models.Classification
		var category, source, keywords string
		if err := rows.Scan(&c.Turn, &category, &c.Confidence, &c.Rationale, &source, &keywords); err != nil {
			return nil, fmt.Errorf("error scanning classification: %w", err)
		}
		c.Category = models.Category(category)
		c.Source = models.ClassificationSource(source)
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, fmt.Errorf("error decoding keywords: %w", err)
		}
		if len(c.Keywords) == 0 {
			c.Keywords = nil
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetInvocations(ctx context.Context, sessionID string) ([]models.InvocationRecord, error) {
	query := `
		SELECT turn, seq, capability, success, latency_ns, input, output, error, error_kind
		FROM invocations
		WHERE session_id = ?
		ORDER BY turn, seq`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying invocations: %w", err)
	}
	defer rows.Close()

	var out []models.InvocationRecord
	for rows.Next() {
		var r models.InvocationRecord
		var capability, kind string
		var latency int64
		if err := rows.Scan(&r.Turn, &r.Seq, &capability, &r.Success, &latency,
			&r.Input, &r.Output, &r.Error, &kind); err != nil {
			return nil, fmt.Errorf("error scanning invocation: %w", err)
		}
		r.Capability = models.CapabilityID(capability)
		r.ErrKind = models.ErrorKind(kind)
		r.Latency = time.Duration(latency)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetPerformance(ctx context.Context, sessionID string) ([]models.PerformanceSample, error) {
	query := `
		SELECT turn, total_ns, breakdown, mix, semantic_model, success, rows_returned
		FROM performance
		WHERE session_id = ?
		ORDER BY turn`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying performance: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceSample
	for rows.Next() {
		var p models.PerformanceSample
		var total int64
		var breakdown, mix string
		if err := rows.Scan(&p.Turn, &total, &breakdown, &mix, &p.SemanticModel, &p.Success, &p.RowsReturned); err != nil {
			return nil, fmt.Errorf("error scanning performance sample: %w", err)
		}
		p.Total = time.Duration(total)
		if err := json.Unmarshal([]byte(breakdown), &p.Breakdown); err != nil {
			return nil, fmt.Errorf("error decoding breakdown: %w", err)
		}
		if err := json.Unmarshal([]byte(mix), &p.Mix); err != nil {
			return nil, fmt.Errorf("error decoding mix: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	if err := s.sessionExists(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.GetMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	classes, err := s.GetClassifications(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	invs, err := s.GetInvocations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	perf, err := s.GetPerformance(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return buildStats(sessionID, msgs, classes, invs, perf), nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
