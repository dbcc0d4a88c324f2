package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/spendguard/internal/domain"
)

func TestReadBatch(t *testing.T) {
	t.Run("Envelope", func(t *testing.T) {
		records, err := readBatch(strings.NewReader(`{"transactions":[{"id":"a","amount":1,"timestamp":1715743800000,"category":"Food"}]}`))
		if err != nil {
			t.Fatalf("readBatch failed: %v", err)
		}
		if len(records) != 1 || records[0].ID != "a" {
			t.Errorf("unexpected records: %+v", records)
		}
	})

	t.Run("BareArray", func(t *testing.T) {
		records, err := readBatch(strings.NewReader(` [{"id":"a"},{"id":"b"}]`))
		if err != nil {
			t.Fatalf("readBatch failed: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("expected 2 records, got %d", len(records))
		}
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := readBatch(strings.NewReader(`{"transactions":[]}`))
		if !errors.Is(err, domain.ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, err := readBatch(strings.NewReader(`{"transactions":`)); err == nil {
			t.Error("expected decode error")
		}
	})
}
