package event

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/billmeter/domain/failure"
)

// Validate checks an SDK_CALL payload.
func (d SDKCallData) Validate() error {
	switch d.Type {
	case SDKCallRaw, SDKCallMiddlewareCall:
		return nil
	case "":
		return failure.New(failure.InvalidData, "SDK_CALL: type is required")
	default:
		return failure.Newf(failure.InvalidData, "SDK_CALL: unknown type %q", d.Type)
	}
}

// Validate checks a PAYMENT payload.
func (d PaymentData) Validate() error {
	if d.CreditAmount <= 0 {
		return failure.Newf(failure.InvalidData, "PAYMENT: creditAmount must be > 0, got %d", d.CreditAmount)
	}
	return nil
}

// Validate checks a single AI_TOKEN_USAGE payload. Debit amounts may be
// negative (refunds); token counts may not.
func (d AITokenUsageData) Validate() error {
	if err := d.check(false); err != nil {
		return failure.Wrap(failure.InvalidData, err, "AI_TOKEN_USAGE")
	}
	return nil
}

// ValidateForBatch is Validate with every numeric field required >= 0.
func (d AITokenUsageData) ValidateForBatch() error {
	if err := d.check(true); err != nil {
		return failure.Wrap(failure.InvalidData, err, "AI_TOKEN_USAGE")
	}
	return nil
}

func (d AITokenUsageData) check(strict bool) error {
	if strings.TrimSpace(d.Model) == "" {
		return errors.New("model is required")
	}
	fields := []struct {
		name  string
		value int64
		debit bool
	}{
		{"inputTokens", d.InputTokens, false},
		{"outputTokens", d.OutputTokens, false},
		{"inputDebitAmount", d.InputDebitAmount, true},
		{"outputDebitAmount", d.OutputDebitAmount, true},
	}
	for _, f := range fields {
		if f.debit && !strict {
			continue
		}
		if f.value < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", f.name, f.value)
		}
	}
	return nil
}

// Validate checks an ADD_KEY payload.
func (d AddKeyData) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return failure.New(failure.InvalidData, "ADD_KEY: name is required")
	}
	if strings.TrimSpace(d.Key) == "" {
		return failure.New(failure.InvalidData, "ADD_KEY: key is required")
	}
	if !d.Revoked && d.RevokedAt != nil {
		return failure.New(failure.InvalidData, "ADD_KEY: revokedAt set on a key that is not revoked")
	}
	return nil
}

// Validate checks the optional reporting window.
func (d RequestData) Validate() error {
	if d.From != nil && d.To != nil && !d.From.Before(*d.To) {
		return failure.New(failure.InvalidData, "request window: from must be before to")
	}
	return nil
}
