package sqlstore

import (
	"context"
	"database/sql"

	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
	"github.com/artpar/billmeter/ports"
)

func (db *DB) SumSDKDebits(ctx context.Context, userID string, w event.RequestData) (ports.Aggregate, error) {
	return db.sum(ctx, "sdk_call_events", "d.debit_amount", userID, w)
}

func (db *DB) SumAITokenDebits(ctx context.Context, userID string, w event.RequestData) (ports.Aggregate, error) {
	return db.sum(ctx, "ai_token_usage_events", "d.input_debit_amount + d.output_debit_amount", userID, w)
}

func (db *DB) SumPaymentCredits(ctx context.Context, userID string, w event.RequestData) (ports.Aggregate, error) {
	return db.sum(ctx, "payment_events", "d.credit_amount", userID, w)
}

// sum returns the raw SUM over a detail table joined to its events, with
// the window applied as [From, To). The value is handed back uncoerced;
// SUM over zero rows is NULL and comes back with Valid false.
func (db *DB) sum(ctx context.Context, table, expr, userID string, w event.RequestData) (ports.Aggregate, error) {
	q := "SELECT SUM(" + expr + ") FROM " + table + " d JOIN events e ON e.id = d.id WHERE e.user_id = ?"
	args := []any{userID}
	if w.From != nil {
		q += " AND e.reported_timestamp >= ?"
		args = append(args, db.dialect.FormatTimestamp(*w.From))
	}
	if w.To != nil {
		q += " AND e.reported_timestamp < ?"
		args = append(args, db.dialect.FormatTimestamp(*w.To))
	}

	var v sql.NullString
	if err := db.QueryRowContext(ctx, db.dialect.Rebind(q), args...).Scan(&v); err != nil {
		return ports.Aggregate{}, failure.Wrap(failure.QueryFailed, err, "sum "+table)
	}
	return ports.Aggregate{Value: v.String, Valid: v.Valid}, nil
}

func (db *DB) CountEvents(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, db.dialect.Rebind("SELECT COUNT(*) FROM events WHERE user_id = ?"), userID).Scan(&n)
	if err != nil {
		return 0, failure.Wrap(failure.QueryFailed, err, "count events")
	}
	return n, nil
}

func (db *DB) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, failure.Wrap(failure.QueryFailed, err, "count users")
	}
	return n, nil
}
