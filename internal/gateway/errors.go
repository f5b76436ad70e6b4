package gateway

import (
	"errors"
	"fmt"

	"github.com/meschain/marketsync/internal/domain/model"
)

// ErrorKind classifies what stopped an outbound marketplace call.
type ErrorKind string

const (
	// KindRateLimited means the local fixed-window budget is exhausted.
	KindRateLimited ErrorKind = "rate_limited"
	// KindCircuitOpen means the circuit for this marketplace endpoint is open.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindHTTP means the marketplace answered with a failure status.
	KindHTTP ErrorKind = "http_error"
	// KindNetwork means the request never produced a response.
	KindNetwork ErrorKind = "network"
	// KindAuth means credentials are missing or token acquisition failed.
	KindAuth ErrorKind = "auth"
)

// GatewayError is the error type for all gateway call failures. Status is
// only set for KindHTTP.
//
//nolint:errname // Gateway prefix reads better at call sites than ErrorGateway.
type GatewayError struct {
	Marketplace model.Marketplace
	Endpoint    string
	Kind        ErrorKind
	Status      int
	Err         error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s %s: %s", e.Marketplace, e.Endpoint, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a follow-up attempt could succeed. Rate limit
// and circuit rejections clear on their own; auth failures and 4xx answers
// do not.
func (e *GatewayError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindCircuitOpen, KindTimeout, KindNetwork:
		return true
	case KindHTTP:
		return e.Status >= 500 || e.Status == 429
	case KindAuth:
		return false
	default:
		return false
	}
}

// AsGatewayError unwraps err into a *GatewayError if one is in the chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}
