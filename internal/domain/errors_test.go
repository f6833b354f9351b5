package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), ""},
		{"domain error", NewError(KindNoPrice, "no price for %s", "AAPL"), KindNoPrice},
		{"wrapped domain error", fmt.Errorf("outer: %w", NewError(KindNoData, "empty")), KindNoData},
		{"insufficient shares", &InsufficientSharesError{Symbol: "AAPL"}, KindInsufficientShares},
		{"context canceled", context.Canceled, KindCanceled},
		{"deadline exceeded", context.DeadlineExceeded, KindCanceled},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindStorage, cause, "insert failed")

	assert.True(t, IsKind(err, KindStorage))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage_error")
	assert.Contains(t, err.Error(), "disk full")
}

func TestInsufficientSharesError_Message(t *testing.T) {
	err := &InsufficientSharesError{
		Symbol:    "MSFT",
		Required:  decimal.NewFromInt(120),
		Available: decimal.NewFromInt(30),
	}

	assert.Contains(t, err.Error(), "MSFT")
	assert.Contains(t, err.Error(), "120")
	assert.Contains(t, err.Error(), "30")
}
