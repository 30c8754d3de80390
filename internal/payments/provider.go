package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCallTimeout bounds each provider call when the manager is not configured otherwise.
const DefaultCallTimeout = 10 * time.Second

// SessionState is the normalised checkout session payment state.
type SessionState string

const (
	// SessionPaid means the provider captured the payment.
	SessionPaid SessionState = "paid"
	// SessionUnpaid means the customer has not completed payment yet.
	SessionUnpaid SessionState = "unpaid"
	// SessionExpired means the session can no longer be paid.
	SessionExpired SessionState = "expired"
)

// LineItem describes one priced line shown on the provider's checkout page.
type LineItem struct {
	Name      string
	Quantity  int64
	UnitPrice decimal.Decimal
}

// SessionRequest captures the payload required to create a checkout session.
type SessionRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Items          []LineItem
	IdempotencyKey string
}

// Session is the provider checkout session returned to the client.
type Session struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// SessionStatus is the provider view of a checkout session.
type SessionStatus struct {
	SessionID        string
	State            SessionState
	OrderID          string
	PaymentReference string
	AmountTotal      decimal.Decimal
	Currency         string
}

// RefundRequest defines a full or partial refund against a captured payment.
type RefundRequest struct {
	PaymentReference string
	Amount           decimal.Decimal
	Currency         string
	Reason           string
	IdempotencyKey   string
	Metadata         map[string]string
}

// Refund is the provider's confirmation of a refund.
type Refund struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Status   string
}

// Provider is implemented by each payment provider adapter.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

// Gateway is the capability surface consumed by the order lifecycle.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

// Manager routes calls to a provider, bounds each call with a timeout and normalises
// failures into *GatewayError.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
	timeout         time.Duration
}

var _ Gateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no currency route matches.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = strings.ToLower(strings.TrimSpace(provider))
		}
	}
}

// WithCallTimeout bounds each provider call.
func WithCallTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: make(map[string]string),
		timeout:        DefaultCallTimeout,
	}
	for key, provider := range providers {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", key)
		}
		m.providers[key] = provider
	}
	if _, ok := m.providers["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Manager) resolve(currency string) (string, Provider, error) {
	if route, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		if provider, ok := m.providers[route]; ok {
			return route, provider, nil
		}
	}
	if provider, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, provider, nil
	}
	if len(m.providers) == 1 {
		for key, provider := range m.providers {
			return key, provider, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateSession delegates to the provider routed for the request currency.
func (m *Manager) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	key, provider, err := m.resolve(req.Currency)
	if err != nil {
		return Session{}, asGatewayError("", "create_session", err)
	}
	session, err := call(ctx, m.timeout, key, "create_session", func(ctx context.Context) (Session, error) {
		return provider.CreateSession(ctx, req)
	})
	if err != nil {
		return Session{}, err
	}
	session.Provider = key
	return session, nil
}

// GetSessionStatus asks the default provider for the session state.
func (m *Manager) GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	key, provider, err := m.resolve("")
	if err != nil {
		return SessionStatus{}, asGatewayError("", "get_session", err)
	}
	return call(ctx, m.timeout, key, "get_session", func(ctx context.Context) (SessionStatus, error) {
		return provider.GetSessionStatus(ctx, sessionID)
	})
}

// Refund delegates to the provider routed for the refund currency.
func (m *Manager) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	key, provider, err := m.resolve(req.Currency)
	if err != nil {
		return Refund{}, asGatewayError("", "refund", err)
	}
	return call(ctx, m.timeout, key, "refund", func(ctx context.Context) (Refund, error) {
		return provider.Refund(ctx, req)
	})
}

// call runs fn with a deadline and returns as soon as the deadline passes, even when the
// provider ignores its context.
func call[T any](ctx context.Context, timeout time.Duration, provider, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(callCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && callCtx.Err() != nil {
				return zero, &GatewayError{Provider: provider, Op: op, Timeout: true, Err: res.err}
			}
			return zero, asGatewayError(provider, op, res.err)
		}
		return res.value, nil
	case <-callCtx.Done():
		return zero, &GatewayError{Provider: provider, Op: op, Timeout: callCtx.Err() == context.DeadlineExceeded, Err: callCtx.Err()}
	}
}
