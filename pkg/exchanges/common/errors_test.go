package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyBinanceCode(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		httpStatus int
		want       ErrorKind
	}{
		{"margin type unchanged", -4046, 400, KindAlreadySatisfied},
		{"position side unchanged", -4059, 400, KindAlreadySatisfied},
		{"cancel of gone order", -2011, 400, KindAlreadySatisfied},
		{"rate limited", -1003, 429, KindTransient},
		{"too many orders", -1015, 400, KindTransient},
		{"clock drift", -1021, 400, KindTransient},
		{"ip ban", -1000, 418, KindTransient},
		{"http 429 without code", 0, 429, KindTransient},
		{"server error", -1000, 503, KindTransient},
		{"filter failure", -1013, 400, KindRejected},
		{"no http context", -9999, 0, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyBinanceCode(tt.code, tt.httpStatus); got != tt.want {
				t.Errorf("ClassifyBinanceCode(%d, %d) = %v, want %v", tt.code, tt.httpStatus, got, tt.want)
			}
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	satisfied := &ExchangeError{Kind: KindAlreadySatisfied, Code: -2011, HTTPStatus: 400, Message: "Unknown order sent."}
	transient := &ExchangeError{Kind: KindTransient, Code: -1003, HTTPStatus: 429, Message: "Too many requests."}

	if !IsAlreadySatisfied(satisfied) || IsAlreadySatisfied(transient) {
		t.Error("IsAlreadySatisfied misclassified")
	}
	if !IsTransient(transient) || IsTransient(satisfied) {
		t.Error("IsTransient misclassified")
	}

	// Wrapped errors still classify.
	wrapped := fmt.Errorf("cancel SL: %w", satisfied)
	if !IsAlreadySatisfied(wrapped) {
		t.Error("wrapped error must still classify")
	}

	if IsAlreadySatisfied(errors.New("plain")) || IsTransient(nil) {
		t.Error("non-exchange errors must not classify")
	}
}
