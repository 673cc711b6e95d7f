package payout

import "context"

// MockCaller is a test double for Caller. CallFn must be set before Call is used.
type MockCaller struct {
	CallFn func(ctx context.Context, method string, params []interface{}, result interface{}) error
}

func (m *MockCaller) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	return m.CallFn(ctx, method, params, result)
}
