package ident_test

import (
	"strings"
	"testing"

	"github.com/artpar/billmeter/domain/ident"
)

func TestNewParser_Unknown(t *testing.T) {
	_, err := ident.NewParser("snowflake")
	if err == nil {
		t.Fatal("NewParser(snowflake) should fail")
	}
	for _, s := range ident.Schemes() {
		if !strings.Contains(err.Error(), string(s)) {
			t.Errorf("error %q does not list scheme %s", err, s)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		scheme  ident.Scheme
		raw     string
		want    string
		wantErr bool
	}{
		{ident.SchemeUUID, "6F9619FF-8B86-D011-B42D-00C04FC964FF", "6f9619ff-8b86-d011-b42d-00c04fc964ff", false},
		{ident.SchemeUUID, "  6f9619ff-8b86-d011-b42d-00c04fc964ff ", "6f9619ff-8b86-d011-b42d-00c04fc964ff", false},
		{ident.SchemeUUID, "", "", true},
		{ident.SchemeUUID, "user-1", "", true},
		{ident.SchemeBigInt, "9223372036854775807", "9223372036854775807", false},
		{ident.SchemeBigInt, "007", "7", false},
		{ident.SchemeBigInt, "0", "", true},
		{ident.SchemeBigInt, "abc", "", true},
		{ident.SchemeInt, "2147483647", "2147483647", false},
		{ident.SchemeInt, "2147483648", "", true},
		{ident.SchemeInt, "-5", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.scheme)+"/"+tt.raw, func(t *testing.T) {
			p := ident.MustParser(tt.scheme)
			got, err := p.Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got.String() != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestUserID_IsZero(t *testing.T) {
	var id ident.UserID
	if !id.IsZero() {
		t.Error("zero UserID should report IsZero")
	}
	id, _ = ident.MustParser(ident.SchemeInt).Parse("1")
	if id.IsZero() {
		t.Error("parsed UserID should not report IsZero")
	}
}
