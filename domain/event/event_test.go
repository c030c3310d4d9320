package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/artpar/billmeter/domain/event"
	"github.com/artpar/billmeter/domain/failure"
)

func TestAllKinds_RequestSplit(t *testing.T) {
	var requests, writes int
	for _, k := range event.AllKinds() {
		if k.IsRequest() {
			requests++
		} else {
			writes++
		}
	}
	if requests != 3 {
		t.Errorf("request kinds = %d, want 3", requests)
	}
	if writes != 4 {
		t.Errorf("write kinds = %d, want 4", writes)
	}
}

func TestConstructors_DefaultToNowUTC(t *testing.T) {
	before := time.Now().UTC()
	e := event.NewSDKCall("u1", event.SDKCallData{Type: event.SDKCallRaw, DebitAmount: 3})
	after := time.Now().UTC()

	if e.ReportedAt.Before(before) || e.ReportedAt.After(after) {
		t.Errorf("ReportedAt = %v, want between %v and %v", e.ReportedAt, before, after)
	}
	if e.ReportedAt.Location() != time.UTC {
		t.Errorf("ReportedAt location = %v, want UTC", e.ReportedAt.Location())
	}
}

func TestConstructors_AtOverrides(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, loc)

	e := event.NewPayment("u1", event.PaymentData{CreditAmount: 100}, event.At(at))
	if !e.ReportedAt.Equal(at) {
		t.Errorf("ReportedAt = %v, want %v", e.ReportedAt, at)
	}
	if e.ReportedAt.Location() != time.UTC {
		t.Errorf("ReportedAt location = %v, want UTC", e.ReportedAt.Location())
	}
}

func TestSerialize(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
	e := event.NewAITokenUsage("u1", event.AITokenUsageData{
		Model:             "gpt4",
		InputTokens:       100,
		OutputTokens:      50,
		InputDebitAmount:  10,
		OutputDebitAmount: 5,
	}, event.At(at))

	env, err := e.Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}

	if env.SQL.Type != event.KindAITokenUsage {
		t.Errorf("Type = %s, want %s", env.SQL.Type, event.KindAITokenUsage)
	}
	if env.SQL.UserID != "u1" {
		t.Errorf("UserID = %s, want u1", env.SQL.UserID)
	}
	if env.SQL.ReportedTimestamp != "2024-01-02T03:04:05.600Z" {
		t.Errorf("ReportedTimestamp = %s, want 2024-01-02T03:04:05.600Z", env.SQL.ReportedTimestamp)
	}

	data, err := event.Decode[event.AITokenUsageData](env.SQL)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if data != e.Data {
		t.Errorf("Decode = %+v, want %+v", data, e.Data)
	}
}

func TestSerialize_WireShape(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := event.NewSDKCall("u1", event.SDKCallData{Type: event.SDKCallMiddlewareCall, DebitAmount: -4}, event.At(at)).Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"SQL":{"type":"SDK_CALL","userId":"u1","reported_timestamp":"2024-01-02T03:04:05.000Z","data":{"type":"MIDDLEWARE_CALL","debitAmount":-4}}}`
	if string(raw) != want {
		t.Errorf("wire shape =\n%s\nwant\n%s", raw, want)
	}
}

func TestSerialize_AddKeyHasNoUser(t *testing.T) {
	env, err := event.NewAddKey(event.AddKeyData{Name: "ci", Key: "hash"}).Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}
	if env.SQL.UserID != "" {
		t.Errorf("UserID = %q, want empty", env.SQL.UserID)
	}
	if env.SQL.Type != event.KindAddKey {
		t.Errorf("Type = %s, want ADD_KEY", env.SQL.Type)
	}
}

func TestRequest_Kinds(t *testing.T) {
	tests := []struct {
		req  event.Request
		want event.Kind
	}{
		{event.NewRequestSDKCall("u1", event.RequestData{}), event.KindRequestSDKCall},
		{event.NewRequestAITokenUsage("u1", event.RequestData{}), event.KindRequestAITokenUsage},
		{event.NewRequestPayment("u1", event.RequestData{}), event.KindRequestPayment},
	}
	for _, tt := range tests {
		env, err := tt.req.Serialize()
		if err != nil {
			t.Fatalf("Serialize error: %v", err)
		}
		if env.SQL.Type != tt.want || tt.req.Kind() != tt.want {
			t.Errorf("kind = %s/%s, want %s", env.SQL.Type, tt.req.Kind(), tt.want)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Run("missing data", func(t *testing.T) {
		_, err := event.Decode[event.PaymentData](event.Record{Type: event.KindPayment})
		if !failure.Has(err, failure.InvalidData) {
			t.Errorf("error = %v, want INVALID_DATA", err)
		}
	})

	t.Run("fractional credit amount", func(t *testing.T) {
		rec := event.Record{Type: event.KindPayment, Data: json.RawMessage(`{"creditAmount":250.75}`)}
		_, err := event.Decode[event.PaymentData](rec)
		if !failure.Has(err, failure.InvalidData) {
			t.Errorf("error = %v, want INVALID_DATA", err)
		}
	})

	t.Run("request data is optional", func(t *testing.T) {
		got, err := event.DecodeRequest(event.Record{Type: event.KindRequestSDKCall})
		if err != nil {
			t.Fatalf("DecodeRequest error: %v", err)
		}
		if got.From != nil || got.To != nil {
			t.Errorf("DecodeRequest = %+v, want empty window", got)
		}
	})
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024-01-02T03:04:05Z", "2024-01-02T03:04:05.000Z", false},
		{"2024-01-02T05:04:05.123456+02:00", "2024-01-02T03:04:05.123Z", false},
		{"", "", true},
		{"   ", "", true},
		{"yesterday", "", true},
		{"2024-01-02 03:04:05", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := event.ParseTimestamp(tt.in)
			if tt.wantErr {
				if !failure.Has(err, failure.InvalidTimestamp) {
					t.Errorf("error = %v, want INVALID_TIMESTAMP", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimestamp error: %v", err)
			}
			if s := event.FormatTimestamp(got); s != tt.want {
				t.Errorf("ParseTimestamp(%q) = %s, want %s", tt.in, s, tt.want)
			}
		})
	}
}
