package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandro-br-dev/charhub-sub004/internal/circuitbreaker"
	"github.com/leandro-br-dev/charhub-sub004/internal/config"
	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(config.GenerationConfig{
		BaseURL:             srv.URL,
		APIKey:              "secret",
		RequestTimeout:      200 * time.Millisecond,
		BreakerMaxFailures:  3,
		BreakerResetTimeout: time.Hour,
	}, logging.Nop())
	return client, srv
}

func TestClient_InvokeSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, KindReferenceView, req.Kind)
		assert.Equal(t, []string{"artifact://face"}, req.References)

		_ = json.NewEncoder(w).Encode(Artifact{Ref: "artifact://front", ContentType: "image/png"})
	})

	artifact, err := client.Invoke(context.Background(), Request{
		Kind:       KindReferenceView,
		Label:      "front",
		Prompt:     "full body, front",
		References: []string{"artifact://face"},
	})
	require.NoError(t, err)
	assert.Equal(t, "artifact://front", artifact.Ref)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"server error", http.StatusServiceUnavailable, `busy`, apperrors.CodeTransientBackendError},
		{"quota", http.StatusTooManyRequests, `slow down`, apperrors.CodeTransientBackendError},
		{"request timeout", http.StatusRequestTimeout, ``, apperrors.CodeTransientBackendError},
		{"rejected prompt", http.StatusBadRequest, `nsfw`, apperrors.CodePermanentBackendError},
		{"unauthorized", http.StatusUnauthorized, ``, apperrors.CodePermanentBackendError},
		{"malformed body", http.StatusOK, `not json`, apperrors.CodePermanentBackendError},
		{"missing artifact", http.StatusOK, `{}`, apperrors.CodePermanentBackendError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Invoke(context.Background(), Request{Kind: KindAvatar, Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.Code(err))
		})
	}
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	_, err := client.Invoke(context.Background(), Request{Kind: KindAvatar, Prompt: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestClient_CircuitOpensOnTransientFailures(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 3; i++ {
		_, _ = client.Invoke(context.Background(), Request{Kind: KindSticker, Prompt: "x"})
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.Breaker().GetState())

	_, err := client.Invoke(context.Background(), Request{Kind: KindSticker, Prompt: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTransientBackendError))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_PermanentFailuresKeepCircuitClosed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	for i := 0; i < 5; i++ {
		_, _ = client.Invoke(context.Background(), Request{Kind: KindSticker, Prompt: "x"})
	}
	assert.Equal(t, circuitbreaker.StateClosed, client.Breaker().GetState())
}

func TestClient_CompleteFields(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/complete", r.URL.Path)
		_, _ = w.Write([]byte(`{"fields":{"age":"24","occupation":"baker"}}`))
	})

	fields, err := client.CompleteFields(context.Background(), FieldsRequest{SubjectID: "c1", Missing: []string{"age", "occupation"}})
	require.NoError(t, err)
	assert.Equal(t, "baker", fields["occupation"])
}

func TestClient_HealthCheck(t *testing.T) {
	healthy := int32(1)
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&healthy) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	assert.True(t, client.HealthCheck(context.Background()))
	atomic.StoreInt32(&healthy, 0)
	assert.False(t, client.HealthCheck(context.Background()))

	srv.Close()
	assert.False(t, client.HealthCheck(context.Background()))
}
