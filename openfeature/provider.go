// Package openfeature exposes a pennant client as an OpenFeature provider.
//
// # Evaluation Context Mapping
//
// The flattened OpenFeature context becomes a pennant user:
//   - targetingKey (or key) -> User.Key
//   - secondary, ip, country, email, name -> the matching built-in attribute
//   - anonymous (bool) -> User.Anonymous
//   - every other key -> User.Custom
//
// A context without a targeting key fails with TARGETING_KEY_MISSING.
//
// # Outcomes
//
// A missing flag resolves to FLAG_NOT_FOUND and a failed evaluation to
// GENERAL, both with the caller's default. In offline mode every flag
// resolves to its default with reason DEFAULT. Evaluated values are type
// checked; JSON numbers are accepted for integer flags when integral.
package openfeature

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	of "github.com/open-feature/go-sdk/openfeature"

	"github.com/OrlandoBitencourt/pennant"
	"github.com/OrlandoBitencourt/pennant/internal/evaluator"
)

// Client is the part of *pennant.Client the provider uses.
type Client interface {
	Evaluate(ctx context.Context, flagKey string, user pennant.User, def any) pennant.Outcome
	Ready() bool
}

const (
	providerName     = "pennant"
	providerNotReady = "pennant client has not loaded flags"
)

// Provider is an OpenFeature provider backed by a started pennant client.
// The client's lifecycle stays with the caller.
type Provider struct {
	client Client

	mu    sync.RWMutex
	state of.State
}

// NewProvider creates a provider for client.
func NewProvider(client Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("openfeature: client is required")
	}
	return &Provider{client: client, state: of.NotReadyState}, nil
}

// Init marks the provider ready once the client has loaded flags.
func (p *Provider) Init(_ of.EvaluationContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.client.Ready() {
		p.state = of.ErrorState
		return errors.New(providerNotReady)
	}
	p.state = of.ReadyState
	return nil
}

// Shutdown marks the provider not ready. It does not stop the client.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = of.NotReadyState
}

// Metadata returns the provider name.
func (p *Provider) Metadata() of.Metadata {
	return of.Metadata{Name: providerName}
}

// Hooks returns empty slice as provider does not have any hooks.
func (p *Provider) Hooks() []of.Hook {
	return []of.Hook{}
}

// BooleanEvaluation evaluates a boolean flag.
func (p *Provider) BooleanEvaluation(ctx context.Context, flag string, defaultValue bool, evalCtx of.FlattenedContext) of.BoolResolutionDetail {
	v, detail := p.resolve(ctx, flag, defaultValue, evalCtx)
	b, ok := v.(bool)
	if !ok {
		return of.BoolResolutionDetail{Value: defaultValue, ProviderResolutionDetail: typeMismatch(flag, "bool", v)}
	}
	return of.BoolResolutionDetail{Value: b, ProviderResolutionDetail: detail}
}

// StringEvaluation evaluates a string flag.
func (p *Provider) StringEvaluation(ctx context.Context, flag string, defaultValue string, evalCtx of.FlattenedContext) of.StringResolutionDetail {
	v, detail := p.resolve(ctx, flag, defaultValue, evalCtx)
	s, ok := v.(string)
	if !ok {
		return of.StringResolutionDetail{Value: defaultValue, ProviderResolutionDetail: typeMismatch(flag, "string", v)}
	}
	return of.StringResolutionDetail{Value: s, ProviderResolutionDetail: detail}
}

// FloatEvaluation evaluates a numeric flag.
func (p *Provider) FloatEvaluation(ctx context.Context, flag string, defaultValue float64, evalCtx of.FlattenedContext) of.FloatResolutionDetail {
	v, detail := p.resolve(ctx, flag, defaultValue, evalCtx)
	switch n := v.(type) {
	case float64:
		return of.FloatResolutionDetail{Value: n, ProviderResolutionDetail: detail}
	case int:
		return of.FloatResolutionDetail{Value: float64(n), ProviderResolutionDetail: detail}
	case int64:
		return of.FloatResolutionDetail{Value: float64(n), ProviderResolutionDetail: detail}
	}
	return of.FloatResolutionDetail{Value: defaultValue, ProviderResolutionDetail: typeMismatch(flag, "float64", v)}
}

// IntEvaluation evaluates an integer flag.
func (p *Provider) IntEvaluation(ctx context.Context, flag string, defaultValue int64, evalCtx of.FlattenedContext) of.IntResolutionDetail {
	v, detail := p.resolve(ctx, flag, defaultValue, evalCtx)
	switch n := v.(type) {
	case int64:
		return of.IntResolutionDetail{Value: n, ProviderResolutionDetail: detail}
	case int:
		return of.IntResolutionDetail{Value: int64(n), ProviderResolutionDetail: detail}
	// JSON numbers decode as float64
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return of.IntResolutionDetail{Value: int64(n), ProviderResolutionDetail: detail}
		}
	}
	return of.IntResolutionDetail{Value: defaultValue, ProviderResolutionDetail: typeMismatch(flag, "int64", v)}
}

// ObjectEvaluation evaluates a flag of any type.
func (p *Provider) ObjectEvaluation(ctx context.Context, flag string, defaultValue any, evalCtx of.FlattenedContext) of.InterfaceResolutionDetail {
	v, detail := p.resolve(ctx, flag, defaultValue, evalCtx)
	return of.InterfaceResolutionDetail{Value: v, ProviderResolutionDetail: detail}
}

// resolve evaluates flag and maps the outcome. On any error the returned
// value is defaultValue.
func (p *Provider) resolve(ctx context.Context, flag string, defaultValue any, evalCtx of.FlattenedContext) (any, of.ProviderResolutionDetail) {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()

	if state != of.ReadyState {
		return defaultValue, errorDetail(of.NewProviderNotReadyResolutionError(providerNotReady))
	}

	user, err := toUser(evalCtx)
	if err != nil {
		return defaultValue, errorDetail(of.NewTargetingKeyMissingResolutionError(err.Error()))
	}

	out := p.client.Evaluate(ctx, flag, user, defaultValue)

	switch out.Status {
	case pennant.StatusNotFound:
		return defaultValue, errorDetail(of.NewFlagNotFoundResolutionError(fmt.Sprintf("flag %s not found", flag)))

	case pennant.StatusEvaluationFailed:
		if errors.Is(out.Err, pennant.ErrOffline) {
			return out.Value, of.ProviderResolutionDetail{Reason: of.DefaultReason}
		}
		msg := "evaluation failed"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		return defaultValue, errorDetail(of.NewGeneralResolutionError(msg))
	}

	detail := of.ProviderResolutionDetail{
		Reason:       toReason(out),
		FlagMetadata: of.FlagMetadata{},
	}
	if out.VariationIndex != nil {
		detail.Variant = strconv.Itoa(*out.VariationIndex)
	}
	if out.Version != nil {
		detail.FlagMetadata["version"] = *out.Version
	}
	return out.Value, detail
}

func toReason(out pennant.Outcome) of.Reason {
	if out.VariationIndex == nil {
		return of.DefaultReason
	}
	switch out.Reason {
	case evaluator.ReasonTargetMatch, evaluator.ReasonRuleMatch:
		return of.TargetingMatchReason
	case evaluator.ReasonOff, evaluator.ReasonPrerequisiteFailed:
		return of.DisabledReason
	case evaluator.ReasonFallthrough:
		return of.StaticReason
	default:
		return of.Reason(out.Reason)
	}
}

func errorDetail(resErr of.ResolutionError) of.ProviderResolutionDetail {
	return of.ProviderResolutionDetail{
		ResolutionError: resErr,
		Reason:          of.ErrorReason,
	}
}

func typeMismatch(flag, want string, got any) of.ProviderResolutionDetail {
	return errorDetail(of.NewTypeMismatchResolutionError(
		fmt.Sprintf("flag %s: expected %s, got %T", flag, want, got)))
}

// toUser converts an OpenFeature evaluation context to a pennant user.
func toUser(evalCtx of.FlattenedContext) (pennant.User, error) {
	var user pennant.User

	for key, val := range evalCtx {
		switch key {
		case of.TargetingKey, "key":
			if s, ok := val.(string); ok && s != "" {
				user.Key = s
			}
		case "secondary":
			user.Secondary = stringOf(val)
		case "ip":
			user.IP = stringOf(val)
		case "country":
			user.Country = stringOf(val)
		case "email":
			user.Email = stringOf(val)
		case "name":
			user.Name = stringOf(val)
		case "anonymous":
			user.Anonymous, _ = val.(bool)
		default:
			if user.Custom == nil {
				user.Custom = make(map[string]any)
			}
			user.Custom[key] = val
		}
	}

	if user.Key == "" {
		return pennant.User{}, fmt.Errorf("context must contain a %s", of.TargetingKey)
	}
	return user, nil
}

func stringOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
