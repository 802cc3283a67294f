package mock

import (
	"sync"

	"github.com/yourorg/payment-reconciler/internal/adapter"
)

// MockAdapter is a mock implementation of the ProviderAdapter interface for testing.
type MockAdapter struct {
	Name        string
	Provider    adapter.ProviderID
	NeedsVerify bool
	ParseFunc   func(params map[string]string) adapter.PaymentOutcome

	mu    sync.Mutex
	calls int
}

// NewMockAdapter creates a new MockAdapter.
func NewMockAdapter(name string, provider adapter.ProviderID) *MockAdapter {
	return &MockAdapter{Name: name, Provider: provider}
}

// Parse implements the ProviderAdapter interface.
// It calls ParseFunc if defined, otherwise returns a successful outcome whose
// transaction id is taken from the "txn" parameter.
func (m *MockAdapter) Parse(params map[string]string) adapter.PaymentOutcome {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.ParseFunc != nil {
		return m.ParseFunc(params)
	}
	return adapter.PaymentOutcome{
		Success:               true,
		Provider:              m.Provider,
		ProviderTransactionID: adapter.Param(params, "txn"),
		MerchantReference:     adapter.Param(params, "ref"),
		RawCode:               "mock",
		Params:                adapter.CopyParams(params),
	}
}

// RequiresVerification implements the ProviderAdapter interface.
func (m *MockAdapter) RequiresVerification() bool { return m.NeedsVerify }

// GetName implements the ProviderAdapter interface.
func (m *MockAdapter) GetName() string { return m.Name }

// GetProviderID implements the ProviderAdapter interface.
func (m *MockAdapter) GetProviderID() adapter.ProviderID { return m.Provider }

// Calls returns how many times Parse was invoked.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
