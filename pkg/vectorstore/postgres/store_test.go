package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTableName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "nomic-wiki", want: "ns_nomic_wiki"},
		{name: "wiki", want: "ns_wiki"},
		{name: "Wiki-EN", want: "ns_wiki_en"},
		{name: "abc_123", want: "ns_abc_123"},
		{name: "", wantErr: true},
		{name: "bad name", wantErr: true},
		{name: "drop;table", wantErr: true},
		{name: "ünïcode", wantErr: true},
	}
	for _, tt := range tests {
		got, err := tableName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("tableName(%q): expected error, got %q", tt.name, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("tableName(%q): %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("tableName(%q): got %q, want %q", tt.name, got, tt.want)
		}
	}
}

// A failed table creation must not poison later writes: only success may
// latch, so that the per-batch retry policy can recover from a transient
// DDL error.
func TestEnsureReady_RetriesAfterFailure(t *testing.T) {
	calls := 0
	n := &Namespace{name: "wiki", table: "ns_wiki"}
	n.ensure = func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	ctx := context.Background()
	for attempt := 1; attempt <= 2; attempt++ {
		if err := n.ensureReady(ctx, 768); err == nil {
			t.Fatalf("attempt %d: expected creation error", attempt)
		}
	}
	if err := n.ensureReady(ctx, 768); err != nil {
		t.Fatalf("third attempt: %v", err)
	}

	// Once created, later writes skip creation entirely.
	if err := n.ensureReady(ctx, 768); err != nil {
		t.Fatalf("after success: %v", err)
	}
	if calls != 3 {
		t.Fatalf("ensure calls = %d, want 3", calls)
	}
}

func TestIsUndefinedTable(t *testing.T) {
	undefined := &pgconn.PgError{Code: pgUndefinedTable}
	if !isUndefinedTable(undefined) {
		t.Error("bare undefined_table PgError not recognised")
	}
	if !isUndefinedTable(fmt.Errorf("exec: %w", undefined)) {
		t.Error("wrapped undefined_table PgError not recognised")
	}
	if isUndefinedTable(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique_violation misclassified as undefined_table")
	}
	if isUndefinedTable(errors.New("plain error")) {
		t.Error("non-PgError misclassified as undefined_table")
	}
}
