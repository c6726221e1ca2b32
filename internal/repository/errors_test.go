package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unique_violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique_violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"foreign_key_violation", &pq.Error{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// 入力値・制約に起因するエラーのみ恒久的と判定されること
func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid_text_representation", &pq.Error{Code: "22P02"}, true},
		{"wrapped foreign_key_violation", fmt.Errorf("record click: %w", &pq.Error{Code: "23503"}), true},
		{"check_violation", &pq.Error{Code: "23514"}, true},
		{"connection_failure", &pq.Error{Code: "08006"}, false},
		{"query_canceled", &pq.Error{Code: "57014"}, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithTimeout_SetsDeadline(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), time.Second)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected deadline to be set")
	}
	if time.Until(deadline) > time.Second {
		t.Errorf("deadline too far in the future: %v", deadline)
	}
}

func TestWithTimeout_ZeroKeepsParent(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	defer cancel()

	if _, ok := ctx.Deadline(); ok {
		t.Error("expected no deadline when timeout is zero")
	}
}

// PostgresXxxRepoがそれぞれのインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ AccountRepository = (*PostgresAccountRepo)(nil)
	var _ LinkRepository = (*PostgresLinkRepo)(nil)
	var _ ClickRepository = (*PostgresClickRepo)(nil)
}

// リンクIDが空の場合はDBに触れずに空を返すこと
func TestPostgresClickRepo_CountDailyByLinks_EmptyIDs(t *testing.T) {
	repo := NewPostgresClickRepo(nil, time.Second)

	counts, err := repo.CountDailyByLinks(context.Background(), nil, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts == nil || len(counts) != 0 {
		t.Errorf("expected empty map, got %v", counts)
	}
}
