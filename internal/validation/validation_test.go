package validation

import (
	"errors"
	"testing"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "42", want: 42},
		{in: " 7 ", want: 7},
		{in: "", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "12a", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("ParseID(%q) error = %v, want ErrInvalid", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseID(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "5000", want: "5000"},
		{in: "1,000.50", want: "1000.5"},
		{in: "10_000", want: "10000"},
		{in: "12.30", want: "12.3"},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "1.005", wantErr: true},
		{in: "abc", wantErr: true},
		{in: " ", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("ParseAmount(%q) error = %v, want ErrInvalid", tt.in, err)
			}
			continue
		}
		if err != nil || got.String() != tt.want {
			t.Fatalf("ParseAmount(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}

func TestParseRate(t *testing.T) {
	if r, err := ParseRate(""); err != nil || !r.IsZero() {
		t.Fatalf("empty rate = %s, %v; want 0", r, err)
	}
	if r, err := ParseRate("85.5"); err != nil || r.String() != "85.5" {
		t.Fatalf("rate = %s, %v; want 85.5", r, err)
	}
	if _, err := ParseRate("-1"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("negative rate error = %v, want ErrInvalid", err)
	}
}
