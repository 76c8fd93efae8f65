package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morbidity-triage-server/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...OracleOption) *OracleClient {
	t.Helper()
	return newTestClientWithConfig(t, domain.OracleConfig{Timeout: 2 * time.Second, RateLimit: 100}, handler, opts...)
}

func newTestClientWithConfig(t *testing.T, cfg domain.OracleConfig, handler http.HandlerFunc, opts ...OracleOption) *OracleClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cfg.BaseURL = server.URL
	return NewOracleClient(cfg, logger, opts...)
}

func retryingConfig() domain.OracleConfig {
	return domain.OracleConfig{
		Timeout:    2 * time.Second,
		RateLimit:  100,
		RetryCount: 3,
		RetryDelay: time.Millisecond,
	}
}

func TestOracleClient_Departamentos(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		expected    []domain.Region
		expectError bool
		statusCode  int
	}{
		{
			name:   "numeric and string ids",
			status: http.StatusOK,
			body:   `{"success":true,"data":[{"id":1,"nombre":"Guatemala"},{"id":"9","nombre":"Quetzaltenango"},{"id":null,"nombre":"sin id"}]}`,
			expected: []domain.Region{
				{Code: "1", Name: "Guatemala"},
				{Code: "9", Name: "Quetzaltenango"},
			},
		},
		{
			name:        "success false",
			status:      http.StatusOK,
			body:        `{"success":false,"error":"db down"}`,
			expectError: true,
		},
		{
			name:        "missing data",
			status:      http.StatusOK,
			body:        `{"success":true}`,
			expectError: true,
		},
		{
			name:        "server error",
			status:      http.StatusInternalServerError,
			body:        `{}`,
			expectError: true,
			statusCode:  http.StatusInternalServerError,
		},
		{
			name:        "not json",
			status:      http.StatusOK,
			body:        `<html>`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/departamentos", r.URL.Path)
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			regions, err := client.Departamentos(context.Background())
			if tt.expectError {
				require.Error(t, err)
				assert.Equal(t, tt.statusCode, domain.StatusCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, regions)
		})
	}
}

func TestOracleClient_Municipios(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/municipios/9", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":901,"nombre":"Quetzaltenango"},{"id":"902","nombre":"Salcajá"}]}`))
	})

	regions, err := client.Municipios(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, []domain.Region{{Code: "901", Name: "Quetzaltenango"}, {Code: "902", Name: "Salcajá"}}, regions)
}

func TestOracleClient_Predict(t *testing.T) {
	var received domain.RequestPayload
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/predict", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"success":true,"predictions":[{"categoria":"Infecciosas","prob":31.06}]}`))
	})

	payload := domain.RequestPayload{Edad: 34, Genero: 2, Ppertenencia: 1, Fuente: "interna", Deptoresiden: 1, Muniresiden: 101}
	body, err := client.Predict(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload, received)
	assert.Contains(t, string(body), "Infecciosas")
}

func TestOracleClient_PredictCausas(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/predict_causas", r.URL.Path)
		var raw map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, "Infecciosas", raw["categoria"])
		assert.EqualValues(t, 34, raw["edad"])
		assert.Equal(t, "interna", raw["fuente"])
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.PredictCausas(context.Background(), domain.CauseRequestPayload{
		RequestPayload: domain.RequestPayload{Edad: 34, Genero: 1, Ppertenencia: 4, Fuente: "interna", Deptoresiden: 1, Muniresiden: 101},
		Categoria:      "Infecciosas",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, domain.StatusCode(err))
	assert.Contains(t, err.Error(), "HTTP error! status: 404")
}

func TestOracleClient_Observer(t *testing.T) {
	var ops []string
	var statuses []int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
	}, WithObserver(func(op string, statusCode int, _ time.Duration, err error) {
		ops = append(ops, op)
		statuses = append(statuses, statusCode)
		assert.NoError(t, err)
	}))

	_, err := client.Departamentos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"departamentos"}, ops)
	assert.Equal(t, []int{http.StatusOK}, statuses)
}

func TestOracleClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 6; i++ {
		_, err := client.Predict(context.Background(), domain.RequestPayload{})
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, domain.StatusCode(err))
	}
	assert.Equal(t, 6, calls)
}

func TestOracleClient_ServerErrorsTripBreaker(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = client.Predict(context.Background(), domain.RequestPayload{})
	}
	assert.Equal(t, 3, calls)
	var ne *domain.NetworkError
	require.True(t, errors.As(lastErr, &ne))
	assert.Zero(t, ne.StatusCode)
}

func TestOracleClient_RetriesLookups(t *testing.T) {
	var calls atomic.Int32
	client := newTestClientWithConfig(t, retryingConfig(), func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":1,"nombre":"Guatemala"}]}`))
	})

	regions, err := client.Departamentos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Region{{Code: "1", Name: "Guatemala"}}, regions)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOracleClient_GivesUpAfterConfiguredAttempts(t *testing.T) {
	var calls atomic.Int32
	client := newTestClientWithConfig(t, retryingConfig(), func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Municipios(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, domain.StatusCode(err))
	assert.EqualValues(t, 3, calls.Load())
}

func TestOracleClient_PredictionsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClientWithConfig(t, retryingConfig(), func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Predict(context.Background(), domain.RequestPayload{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestOracleClient_LookupOutageLeavesPredictionsAvailable(t *testing.T) {
	client := newTestClientWithConfig(t, retryingConfig(), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/departamentos" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"predictions":[{"categoria":"Infecciosas","prob":31.06}]}`))
	})

	for i := 0; i < 4; i++ {
		_, err := client.Departamentos(context.Background())
		require.Error(t, err)
	}
	_, err := client.Departamentos(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	body, err := client.Predict(context.Background(), domain.RequestPayload{})
	require.NoError(t, err)
	assert.Contains(t, string(body), "Infecciosas")
}

func TestOracleClient_CancelledCallsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	arrived := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		arrived <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-arrived
			cancel()
		}()
		_, err := client.Predict(ctx, domain.RequestPayload{})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		cancel()
	}
	assert.EqualValues(t, 5, calls.Load())
}

func TestLinearBackoff(t *testing.T) {
	backoff := linearBackoff(time.Second)
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 3 * time.Second} {
		got, err := backoff(nil, &resty.Response{Request: &resty.Request{Attempt: attempt}})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAreaID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in       string
		expected AreaID
	}{
		{`1`, "1"},
		{`"18"`, "18"},
		{`" 7 "`, "7"},
		{`null`, ""},
		{`2.5`, "2.5"},
	}
	for _, tt := range tests {
		var id AreaID
		require.NoError(t, json.Unmarshal([]byte(tt.in), &id), tt.in)
		assert.Equal(t, tt.expected, id, tt.in)
	}
}
