package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "pgconn", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: recompute_jobs.pending_key"), want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIsUnavailableErr(t *testing.T) {
	if !IsUnavailableErr(&pgconn.PgError{Code: "08006"}) {
		t.Fatalf("expected connection failure to be unavailable")
	}
	if !IsUnavailableErr(errors.New("dial tcp: connection refused")) {
		t.Fatalf("expected refused connection to be unavailable")
	}
	if IsUnavailableErr(gorm.ErrRecordNotFound) {
		t.Fatalf("record not found is not unavailability")
	}
	if IsUnavailableErr(nil) {
		t.Fatalf("nil is not unavailability")
	}
}

func TestNewTestIsolatesDatabases(t *testing.T) {
	type row struct {
		ID   int64 `gorm:"primaryKey"`
		Name string
	}
	first := NewTest(t, &row{})
	second := NewTest(t, &row{})

	if err := first.Create(&row{ID: 1, Name: "a"}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var count int64
	if err := second.Model(&row{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected isolated database, found %d rows", count)
	}
}
