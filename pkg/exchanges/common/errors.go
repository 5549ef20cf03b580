package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies coded exchange failures so callers can branch without
// matching on error text.
type ErrorKind int

const (
	// KindTransient covers timeouts, rate limits and 5xx responses; safe to
	// retry on the next sync pass.
	KindTransient ErrorKind = iota
	// KindAlreadySatisfied marks responses where the requested state already
	// holds ("no need to change leverage", "no such open order"). Callers
	// treat these as success.
	KindAlreadySatisfied
	// KindRejected covers permanent rejections (bad symbol, filter failure).
	KindRejected
	// KindUnknown is everything else.
	KindUnknown
)

// ExchangeError wraps a coded venue failure.
type ExchangeError struct {
	Kind       ErrorKind
	Code       int
	HTTPStatus int
	Message    string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// IsAlreadySatisfied reports whether err is a semantic no-op response.
func IsAlreadySatisfied(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Kind == KindAlreadySatisfied
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Kind == KindTransient
}

// ClassifyBinanceCode maps Binance futures error codes onto kinds.
func ClassifyBinanceCode(code, httpStatus int) ErrorKind {
	switch code {
	case -4046: // no need to change margin type
		return KindAlreadySatisfied
	case -4059: // no need to change position side
		return KindAlreadySatisfied
	case -2011: // unknown order sent (cancel of a gone order)
		return KindAlreadySatisfied
	case -1003, -1015: // too many requests / too many orders
		return KindTransient
	case -1021: // timestamp outside recvWindow
		return KindTransient
	}
	if httpStatus == 429 || httpStatus == 418 || httpStatus >= 500 {
		return KindTransient
	}
	if httpStatus >= 400 {
		return KindRejected
	}
	return KindUnknown
}
