package event

import (
	"math"

	"github.com/artpar/billmeter/domain/failure"
)

type tokenUsageKey struct {
	userID string
	model  string
}

// AggregateTokenUsage collapses a delivery batch into one event per
// (user, model): numeric fields are summed and the latest timestamp wins.
// Every input is validated first; a single bad event rejects the batch.
// Groups keep the order in which their key first appeared.
// This is a PURE function.
func AggregateTokenUsage(events []AITokenUsage) ([]AITokenUsage, error) {
	for i, e := range events {
		if e.UserID == "" {
			return nil, failure.Newf(failure.InvalidData, "events[%d]: userId is required", i)
		}
		if err := e.Data.check(true); err != nil {
			return nil, failure.Newf(failure.InvalidData, "events[%d]: %v", i, err)
		}
	}

	index := make(map[tokenUsageKey]int, len(events))
	groups := make([]AITokenUsage, 0, len(events))

	for _, e := range events {
		k := tokenUsageKey{userID: e.UserID, model: e.Data.Model}
		i, ok := index[k]
		if !ok {
			index[k] = len(groups)
			groups = append(groups, e)
			continue
		}

		g := &groups[i]
		var err error
		if g.Data.InputTokens, err = addChecked(g.Data.InputTokens, e.Data.InputTokens); err != nil {
			return nil, err
		}
		if g.Data.OutputTokens, err = addChecked(g.Data.OutputTokens, e.Data.OutputTokens); err != nil {
			return nil, err
		}
		if g.Data.InputDebitAmount, err = addChecked(g.Data.InputDebitAmount, e.Data.InputDebitAmount); err != nil {
			return nil, err
		}
		if g.Data.OutputDebitAmount, err = addChecked(g.Data.OutputDebitAmount, e.Data.OutputDebitAmount); err != nil {
			return nil, err
		}
		if e.ReportedAt.After(g.ReportedAt) {
			g.ReportedAt = e.ReportedAt
		}
	}

	return groups, nil
}

// DistinctUsers returns each user id once, in first-appearance order.
func DistinctUsers(events []AITokenUsage) []string {
	seen := make(map[string]struct{}, len(events))
	var users []string
	for _, e := range events {
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		users = append(users, e.UserID)
	}
	return users
}

// addChecked adds two non-negative values.
func addChecked(a, b int64) (int64, error) {
	if b > math.MaxInt64-a {
		return 0, failure.New(failure.InvalidData, "aggregated value overflows int64")
	}
	return a + b, nil
}
