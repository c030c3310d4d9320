package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
	"github.com/artpar/billmeter/ports"
)

// eventTx implements ports.EventTx on one *sql.Tx.
type eventTx struct {
	tx      *sql.Tx
	dialect Dialect
	ids     ports.IDGenerator
}

var _ ports.EventTx = (*eventTx)(nil)

func (t *eventTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *eventTx) InsertOrSkipUser(ctx context.Context, userID string) error {
	return t.InsertOrSkipUsers(ctx, []string{userID})
}

func (t *eventTx) InsertOrSkipUsers(ctx context.Context, userIDs []string) error {
	for start := 0; start < len(userIDs); start += maxRowsPerStatement {
		chunk := userIDs[start:min(start+maxRowsPerStatement, len(userIDs))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		if _, err := t.exec(ctx, t.dialect.UpsertUserSQL(len(chunk)), args...); err != nil {
			if t.dialect.IsDuplicateKey(err) {
				continue
			}
			return failure.Wrap(failure.UserInsertFailed, err, "insert users")
		}
	}
	return nil
}

func (t *eventTx) InsertEvent(ctx context.Context, row ports.EventRow) (string, error) {
	ids, err := t.InsertEvents(ctx, []ports.EventRow{row})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (t *eventTx) InsertEvents(ctx context.Context, rows []ports.EventRow) ([]string, error) {
	ids := make([]string, 0, len(rows))

	for start := 0; start < len(rows); start += maxRowsPerStatement {
		chunk := rows[start:min(start+maxRowsPerStatement, len(rows))]

		var (
			got []string
			err error
		)
		if t.dialect.Returning() {
			got, err = t.insertEventsReturning(ctx, chunk)
		} else {
			got, err = t.insertEventsWithIDs(ctx, chunk)
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}

	if len(ids) != len(rows) {
		return nil, failure.Newf(failure.EmptyResult, "inserted %d events, got %d ids", len(rows), len(ids))
	}
	return ids, nil
}

// insertEventsReturning relies on RETURNING yielding rows in VALUES order,
// which holds for a single multi-row INSERT in Postgres.
func (t *eventTx) insertEventsReturning(ctx context.Context, chunk []ports.EventRow) ([]string, error) {
	args := make([]any, 0, len(chunk)*3)
	for _, r := range chunk {
		args = append(args, t.dialect.FormatTimestamp(r.ReportedAt), nullString(r.UserID), nullString(r.APIKeyID))
	}

	q := "INSERT INTO events (reported_timestamp, user_id, api_key_id) VALUES " + placeholders(len(chunk), 3) + " RETURNING id"
	rs, err := t.tx.QueryContext(ctx, t.dialect.Rebind(q), args...)
	if err != nil {
		return nil, t.eventErr(err)
	}
	defer rs.Close()

	ids := make([]string, 0, len(chunk))
	for rs.Next() {
		var id sql.NullString
		if err := rs.Scan(&id); err != nil {
			return nil, t.eventErr(err)
		}
		if !id.Valid || id.String == "" {
			return nil, failure.New(failure.EmptyResult, "insert event returned an empty id")
		}
		ids = append(ids, id.String)
	}
	if err := rs.Err(); err != nil {
		return nil, t.eventErr(err)
	}
	if len(ids) == 0 {
		return nil, failure.New(failure.EmptyResult, "insert event returned no rows")
	}
	return ids, nil
}

func (t *eventTx) insertEventsWithIDs(ctx context.Context, chunk []ports.EventRow) ([]string, error) {
	ids := make([]string, len(chunk))
	args := make([]any, 0, len(chunk)*4)
	for i, r := range chunk {
		ids[i] = t.ids.New()
		if ids[i] == "" {
			return nil, failure.New(failure.EmptyResult, "id generator returned an empty id")
		}
		args = append(args, ids[i], t.dialect.FormatTimestamp(r.ReportedAt), nullString(r.UserID), nullString(r.APIKeyID))
	}

	q := "INSERT INTO events (id, reported_timestamp, user_id, api_key_id) VALUES " + placeholders(len(chunk), 4)
	res, err := t.exec(ctx, q, args...)
	if err != nil {
		return nil, t.eventErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n != int64(len(chunk)) {
		return nil, failure.Newf(failure.EmptyResult, "insert events affected %d rows, want %d", n, len(chunk))
	}
	return ids, nil
}

func (t *eventTx) eventErr(err error) error {
	if t.dialect.IsConstraintViolation(err) {
		return failure.Wrap(failure.ConstraintViolation, err, "insert event")
	}
	return failure.Wrap(failure.EventInsertFailed, err, "insert event")
}

func (t *eventTx) InsertSDKCall(ctx context.Context, eventID string, d event.SDKCallData) error {
	_, err := t.exec(ctx,
		"INSERT INTO sdk_call_events (id, type, debit_amount) VALUES (?, ?, ?)",
		eventID, string(d.Type), d.DebitAmount)
	return t.detailErr("sdk_call_events", err)
}

func (t *eventTx) InsertPayment(ctx context.Context, eventID string, d event.PaymentData) error {
	_, err := t.exec(ctx,
		"INSERT INTO payment_events (id, credit_amount) VALUES (?, ?)",
		eventID, d.CreditAmount)
	return t.detailErr("payment_events", err)
}

func (t *eventTx) InsertAITokenUsage(ctx context.Context, eventID string, d event.AITokenUsageData) error {
	return t.InsertAITokenUsages(ctx, []string{eventID}, []event.AITokenUsageData{d})
}

func (t *eventTx) InsertAITokenUsages(ctx context.Context, eventIDs []string, ds []event.AITokenUsageData) error {
	if len(eventIDs) != len(ds) {
		return fmt.Errorf("insert ai_token_usage_events: %d ids for %d rows", len(eventIDs), len(ds))
	}

	for start := 0; start < len(ds); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(ds))

		args := make([]any, 0, (end-start)*6)
		for i := start; i < end; i++ {
			d := ds[i]
			args = append(args, eventIDs[i], d.Model, d.InputTokens, d.OutputTokens, d.InputDebitAmount, d.OutputDebitAmount)
		}

		q := "INSERT INTO ai_token_usage_events (id, model, input_tokens, output_tokens, input_debit_amount, output_debit_amount) VALUES " +
			placeholders(end-start, 6)
		if _, err := t.exec(ctx, q, args...); err != nil {
			return t.detailErr("ai_token_usage_events", err)
		}
	}
	return nil
}

func (t *eventTx) detailErr(table string, err error) error {
	if err == nil {
		return nil
	}
	if t.dialect.IsConstraintViolation(err) {
		return failure.Wrap(failure.ConstraintViolation, err, "insert "+table)
	}
	return fmt.Errorf("insert %s: %w", table, err)
}

func (t *eventTx) InsertAPIKey(ctx context.Context, d event.AddKeyData) (string, error) {
	expiresAt := t.nullTime(d.ExpiresAt)
	revokedAt := t.nullTime(d.RevokedAt)

	if t.dialect.Returning() {
		var id sql.NullString
		err := t.tx.QueryRowContext(ctx, t.dialect.Rebind(
			"INSERT INTO api_keys (name, key_hash, expires_at, revoked, revoked_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
			d.Name, d.Key, expiresAt, d.Revoked, revokedAt,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && id.String == "") {
			return "", failure.New(failure.EmptyResult, "insert api key returned no id")
		}
		if err != nil {
			return "", t.keyErr(err)
		}
		return id.String, nil
	}

	id := t.ids.New()
	if id == "" {
		return "", failure.New(failure.EmptyResult, "id generator returned an empty id")
	}
	if _, err := t.exec(ctx,
		"INSERT INTO api_keys (id, name, key_hash, expires_at, revoked, revoked_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, d.Name, d.Key, expiresAt, d.Revoked, revokedAt,
	); err != nil {
		return "", t.keyErr(err)
	}
	return id, nil
}

func (t *eventTx) keyErr(err error) error {
	if t.dialect.IsConstraintViolation(err) {
		return failure.Wrap(failure.ConstraintViolation, err, "insert api key")
	}
	return fmt.Errorf("insert api key: %w", err)
}

func (t *eventTx) nullTime(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return t.dialect.FormatTimestamp(*ts)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
