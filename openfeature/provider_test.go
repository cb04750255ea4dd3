package openfeature

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	of "github.com/open-feature/go-sdk/openfeature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant"
	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

// mockClient returns a fixed outcome and records the last user.
type mockClient struct {
	ready    bool
	outcome  func(def any) pennant.Outcome
	lastUser pennant.User
	calls    int
}

func (m *mockClient) Evaluate(ctx context.Context, flagKey string, user pennant.User, def any) pennant.Outcome {
	m.calls++
	m.lastUser = user
	return m.outcome(def)
}

func (m *mockClient) Ready() bool { return m.ready }

func evaluated(value any, index int, reason string) func(any) pennant.Outcome {
	return func(any) pennant.Outcome {
		return pennant.Outcome{
			Status:         pennant.StatusEvaluated,
			Value:          value,
			VariationIndex: domain.IntPtr(index),
			Version:        domain.IntPtr(7),
			Reason:         reason,
		}
	}
}

func newTestProvider(t *testing.T, mock *mockClient) *Provider {
	t.Helper()
	mock.ready = true
	p, err := NewProvider(mock)
	require.NoError(t, err)
	require.NoError(t, p.Init(of.EvaluationContext{}))
	return p
}

var userCtx = of.FlattenedContext{of.TargetingKey: "user-123", "country": "BR", "plan": "pro", "anonymous": true}

func TestNewProvider_RequiresClient(t *testing.T) {
	_, err := NewProvider(nil)
	assert.Error(t, err)
}

func TestProvider_InitNotReady(t *testing.T) {
	p, err := NewProvider(&mockClient{})
	require.NoError(t, err)

	assert.Error(t, p.Init(of.EvaluationContext{}))

	res := p.BooleanEvaluation(context.Background(), "f", true, userCtx)
	assert.True(t, res.Value)
	assert.Equal(t, of.ErrorReason, res.Reason)
	assert.Equal(t, of.NewProviderNotReadyResolutionError(providerNotReady), res.ResolutionError)
}

func TestProvider_Metadata(t *testing.T) {
	p := newTestProvider(t, &mockClient{})
	assert.Equal(t, "pennant", p.Metadata().Name)
	assert.Empty(t, p.Hooks())
}

func TestProvider_BooleanEvaluation(t *testing.T) {
	mock := &mockClient{outcome: evaluated(true, 1, "RULE_MATCH")}
	p := newTestProvider(t, mock)

	res := p.BooleanEvaluation(context.Background(), "new-checkout", false, userCtx)

	assert.True(t, res.Value)
	assert.Equal(t, of.TargetingMatchReason, res.Reason)
	assert.Equal(t, "1", res.Variant)
	assert.Equal(t, 7, res.FlagMetadata["version"])

	assert.Equal(t, "user-123", mock.lastUser.Key)
	assert.Equal(t, "BR", mock.lastUser.Country)
	assert.True(t, mock.lastUser.Anonymous)
	assert.Equal(t, map[string]any{"plan": "pro"}, mock.lastUser.Custom)
}

func TestProvider_TypedEvaluations(t *testing.T) {
	ctx := context.Background()

	str := newTestProvider(t, &mockClient{outcome: evaluated("hello", 0, "FALLTHROUGH")})
	res := str.StringEvaluation(ctx, "banner", "d", userCtx)
	assert.Equal(t, "hello", res.Value)
	assert.Equal(t, of.StaticReason, res.Reason)

	integral := newTestProvider(t, &mockClient{outcome: evaluated(float64(42), 0, "FALLTHROUGH")})
	assert.Equal(t, int64(42), integral.IntEvaluation(ctx, "limit", 1, userCtx).Value)
	assert.Equal(t, 42.0, integral.FloatEvaluation(ctx, "limit", 1, userCtx).Value)

	fractional := newTestProvider(t, &mockClient{outcome: evaluated(2.5, 0, "FALLTHROUGH")})
	ires := fractional.IntEvaluation(ctx, "ratio", 1, userCtx)
	assert.Equal(t, int64(1), ires.Value)
	assert.Equal(t, of.ErrorReason, ires.Reason)

	obj := newTestProvider(t, &mockClient{outcome: evaluated(map[string]any{"a": 1.0}, 0, "TARGET_MATCH")})
	ores := obj.ObjectEvaluation(ctx, "theme", nil, userCtx)
	assert.Equal(t, map[string]any{"a": 1.0}, ores.Value)
	assert.Equal(t, of.TargetingMatchReason, ores.Reason)
}

func TestProvider_TypeMismatch(t *testing.T) {
	p := newTestProvider(t, &mockClient{outcome: evaluated("yes", 0, "FALLTHROUGH")})

	res := p.BooleanEvaluation(context.Background(), "f", false, userCtx)
	assert.False(t, res.Value)
	assert.Equal(t, of.ErrorReason, res.Reason)
	assert.Contains(t, res.ResolutionError.Error(), "TYPE_MISMATCH")
}

func TestProvider_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		outcome   pennant.Outcome
		wantValue string
		wantCode  string
		reason    of.Reason
	}{
		{
			name:      "not found",
			outcome:   pennant.Outcome{Status: pennant.StatusNotFound},
			wantValue: "default",
			wantCode:  "FLAG_NOT_FOUND",
			reason:    of.ErrorReason,
		},
		{
			name:      "evaluation failed",
			outcome:   pennant.Outcome{Status: pennant.StatusEvaluationFailed, Err: errors.New("prerequisite cycle")},
			wantValue: "default",
			wantCode:  "GENERAL",
			reason:    of.ErrorReason,
		},
		{
			name:      "offline",
			outcome:   pennant.Outcome{Status: pennant.StatusEvaluationFailed, Err: pennant.ErrOffline, Value: "static"},
			wantValue: "static",
			reason:    of.DefaultReason,
		},
		{
			name:      "no variation",
			outcome:   pennant.Outcome{Status: pennant.StatusEvaluated, Value: "default"},
			wantValue: "default",
			reason:    of.DefaultReason,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, &mockClient{outcome: func(any) pennant.Outcome { return tt.outcome }})

			res := p.StringEvaluation(context.Background(), "f", "default", userCtx)
			assert.Equal(t, tt.wantValue, res.Value)
			assert.Equal(t, tt.reason, res.Reason)
			if tt.wantCode != "" {
				assert.Contains(t, res.ResolutionError.Error(), tt.wantCode)
			}
		})
	}
}

func TestProvider_MissingTargetingKey(t *testing.T) {
	mock := &mockClient{outcome: evaluated(true, 0, "FALLTHROUGH")}
	p := newTestProvider(t, mock)

	res := p.BooleanEvaluation(context.Background(), "f", false, of.FlattenedContext{"country": "BR"})
	assert.False(t, res.Value)
	assert.Contains(t, res.ResolutionError.Error(), "TARGETING_KEY_MISSING")
	assert.Zero(t, mock.calls)
}

func TestProvider_WithClient(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()

	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flagValues:\n  banner: local\n"), 0o644))

	client, err := pennant.New(
		pennant.WithFlagFile(path),
		pennant.WithEventsURI(collector.URL),
		pennant.WithDeliveryMode(pennant.DeliverySync),
		pennant.WithLogger(logging.Discard()),
	)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(context.Background())

	p, err := NewProvider(client)
	require.NoError(t, err)
	require.NoError(t, p.Init(of.EvaluationContext{}))

	res := p.StringEvaluation(context.Background(), "banner", "remote", userCtx)
	assert.Equal(t, "local", res.Value)
	assert.Equal(t, "0", res.Variant)

	missing := p.StringEvaluation(context.Background(), "missing", "d", userCtx)
	assert.Equal(t, "d", missing.Value)
	assert.Equal(t, of.ErrorReason, missing.Reason)
}
