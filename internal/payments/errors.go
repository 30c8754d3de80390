package payments

import (
	"errors"
	"fmt"
	"strings"
)

// ErrGateway matches every failure surfaced by a payment provider, including timeouts.
var ErrGateway = errors.New("payments: gateway error")

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// GatewayError carries the provider's raw reason for a failed operation.
type GatewayError struct {
	Provider string
	Op       string
	Reason   string
	Timeout  bool
	Err      error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("payments")
	if e.Provider != "" {
		b.WriteString(": " + e.Provider)
	}
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	switch {
	case e.Timeout:
		b.WriteString(": timed out")
	case e.Reason != "":
		b.WriteString(": " + e.Reason)
	case e.Err != nil:
		b.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return b.String()
}

// Unwrap exposes the provider error.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrGateway) match any GatewayError.
func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

func asGatewayError(provider, op string, err error) *GatewayError {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		if gwErr.Provider == "" {
			gwErr.Provider = provider
		}
		if gwErr.Op == "" {
			gwErr.Op = op
		}
		return gwErr
	}
	return &GatewayError{Provider: provider, Op: op, Reason: err.Error(), Err: err}
}
