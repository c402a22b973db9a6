package cache

import (
	"testing"

	"github.com/google/uuid"
)

func TestClientOptions(t *testing.T) {
	opts, err := clientOptions("localhost:6379")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6379" {
		t.Errorf("expected bare address to be used as-is, got %q", opts.Addr)
	}

	opts, err = clientOptions("redis://:secret@cache.internal:6380/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Errorf("unexpected parsed options: addr=%q db=%d", opts.Addr, opts.DB)
	}

	if _, err := clientOptions("  "); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestUnreadKey(t *testing.T) {
	id := uuid.MustParse("7d0b5f2e-8a39-4c55-9d0e-1f7a2b3c4d5e")
	if got := unreadKey(id); got != "portal:unread:7d0b5f2e-8a39-4c55-9d0e-1f7a2b3c4d5e" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestVersionKey(t *testing.T) {
	id := uuid.MustParse("7d0b5f2e-8a39-4c55-9d0e-1f7a2b3c4d5e")
	if versionKey(id) == unreadKey(id) {
		t.Fatal("version and count keys collide")
	}
}

func TestParseOptionalInt(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{nil, 0, false},
		{"7", 7, false},
		{"x", 0, true},
		{int64(3), 0, true},
	}
	for _, tt := range tests {
		got, err := parseOptionalInt(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseOptionalInt(%v) = %d, %v", tt.in, got, err)
		}
	}
}
