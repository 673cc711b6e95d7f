package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCClientCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "gateway", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "balance", req.Method)

		json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage(`100`)})
	}))
	defer server.Close()

	client := NewRPCClient(RPCConfig{URL: server.URL, User: "gateway", Password: "secret"})
	var n int
	require.NoError(t, client.Call(context.Background(), "balance", nil, &n))
	assert.Equal(t, 100, n)
}

func TestRPCClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
		wantMsg string
	}{
		{
			name: "gateway error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(rpcResponse{Error: &rpcError{Code: -32001, Message: "insufficient float"}})
			},
			wantErr: ErrRejected,
			wantMsg: "insufficient float",
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantErr: ErrAuthFailed,
		},
		{
			name: "non-json failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte("upstream down"))
			},
			wantErr: ErrConnectionFailed,
			wantMsg: "upstream down",
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{"))
			},
			wantErr: ErrInvalidResponse,
		},
		{
			name: "id mismatch",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(rpcResponse{ID: 999, Result: json.RawMessage(`0`)})
			},
			wantErr: ErrInvalidResponse,
		},
		{
			name: "wrong result type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var req rpcRequest
				json.NewDecoder(r.Body).Decode(&req)
				json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage(`"x"`)})
			},
			wantErr: ErrInvalidResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			var n int
			err := NewRPCClient(RPCConfig{URL: server.URL}).Call(context.Background(), "balance", nil, &n)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestRPCClientConnectionError(t *testing.T) {
	var n int
	err := NewRPCClient(RPCConfig{URL: "http://localhost:1"}).Call(context.Background(), "balance", nil, &n)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestRPCClientContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRPCClient(RPCConfig{URL: server.URL}).Call(ctx, "balance", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRPCClientSequentialIDs(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []int64
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		ids = append(ids, req.ID)
		mu.Unlock()
		json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage(`0`)})
	}))
	defer server.Close()

	client := NewRPCClient(RPCConfig{URL: server.URL})
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Call(context.Background(), "balance", nil, nil))
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}
