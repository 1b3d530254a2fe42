package inbound

import (
	"context"
	"errors"

	domainCredential "go-line-scheduler/src/domain/credential"
	domainErrors "go-line-scheduler/src/domain/errors"
	"go-line-scheduler/src/infrastructure/credentials"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"go.uber.org/zap"
)

// CredentialResolver is the point lookup used in deterministic mode.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (*credentials.Resolved, error)
}

// CandidateSource supplies the credentials to probe in multiplexed mode.
type CandidateSource interface {
	Snapshot() []domainCredential.Credential
}

// EventHandler acts on one event on behalf of the selected credential.
type EventHandler interface {
	Handle(ctx context.Context, event Event, dispatch Dispatch) error
}

// VerifyFunc checks a signature against a secret.
type VerifyFunc func(body []byte, secret, signature string) bool

type Request struct {
	Body         []byte
	Signature    string
	CredentialID string // empty selects multiplexed mode
}

type Outcome string

const (
	OutcomeDispatched        Outcome = "dispatched"
	OutcomeVerification      Outcome = "verification"
	OutcomeInvalidSignature  Outcome = "invalid_signature"
	OutcomeNoMatch           Outcome = "no_match"
	OutcomeUnknownCredential Outcome = "unknown_credential"
	OutcomeMalformed         Outcome = "malformed"
)

// Result reports what the router did. Callers acknowledge the request whatever the outcome.
type Result struct {
	Outcome      Outcome
	CredentialID string
	Dispatched   int
	Failed       int
}

var ErrInvalidSignature = errors.New("invalid webhook signature")

type Router struct {
	resolver   CredentialResolver
	candidates CandidateSource
	handler    EventHandler
	verify     VerifyFunc
	Logger     *logger.Logger
}

func NewRouter(resolver CredentialResolver, candidates CandidateSource, handler EventHandler, loggerInstance *logger.Logger) *Router {
	return &Router{
		resolver:   resolver,
		candidates: candidates,
		handler:    handler,
		verify:     line.ValidateSignature,
		Logger:     loggerInstance,
	}
}

// Route selects the originating credential, authenticates the request and dispatches its events.
// Only a signature mismatch in deterministic mode is returned as an error, and even then nothing
// is dispatched.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	if req.CredentialID != "" {
		return r.routeDeterministic(ctx, req)
	}
	return r.routeMultiplexed(ctx, req)
}

func (r *Router) routeDeterministic(ctx context.Context, req Request) (Result, error) {
	fields := []zap.Field{zap.String("credentialID", req.CredentialID)}
	resolved, err := r.resolver.Resolve(ctx, req.CredentialID)
	if err != nil {
		if domainErrors.IsType(err, domainErrors.Configuration) {
			r.Logger.Warn("Webhook for unknown or inactive credential", append(fields, zap.Error(err))...)
		} else {
			r.Logger.Error("Webhook credential lookup failed", append(fields, zap.Error(err))...)
		}
		return Result{Outcome: OutcomeUnknownCredential, CredentialID: req.CredentialID}, nil
	}

	cred := resolved.Credential
	if cred.HasSecret() {
		if !r.verify(req.Body, cred.ChannelSecret, req.Signature) {
			r.Logger.Warn("Webhook signature mismatch", fields...)
			return Result{Outcome: OutcomeInvalidSignature, CredentialID: cred.ID}, ErrInvalidSignature
		}
	} else {
		r.Logger.Debug("Credential has no channel secret, skipping signature check", fields...)
	}
	return r.dispatch(ctx, req.Body, Dispatch{
		CredentialID:   cred.ID,
		CredentialName: cred.DisplayName(),
		Client:         replierFor(resolved.Client),
	})
}

func (r *Router) routeMultiplexed(ctx context.Context, req Request) (Result, error) {
	var matched *domainCredential.Credential
	probed := 0
	for _, cand := range r.candidates.Snapshot() {
		if !cand.HasSecret() {
			continue
		}
		probed++
		if r.verify(req.Body, cand.ChannelSecret, req.Signature) {
			c := cand
			matched = &c
			break
		}
	}

	if matched == nil {
		events, err := ParseEvents(req.Body)
		if err == nil && len(events) == 0 {
			r.Logger.Info("Webhook verification request acknowledged", zap.Int("probed", probed))
			return Result{Outcome: OutcomeVerification}, nil
		}
		r.Logger.Warn("No credential validates webhook signature; ignoring events", zap.Int("probed", probed))
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	r.Logger.Debug("Webhook matched credential by signature",
		zap.String("credentialID", matched.ID), zap.Int("probed", probed))
	resolved, err := r.resolver.Resolve(ctx, matched.ID)
	if err != nil {
		r.Logger.Warn("Matched credential is no longer usable", zap.String("credentialID", matched.ID), zap.Error(err))
		return Result{Outcome: OutcomeUnknownCredential, CredentialID: matched.ID}, nil
	}
	return r.dispatch(ctx, req.Body, Dispatch{
		CredentialID:   matched.ID,
		CredentialName: matched.DisplayName(),
		Client:         replierFor(resolved.Client),
	})
}

func (r *Router) dispatch(ctx context.Context, body []byte, d Dispatch) (Result, error) {
	result := Result{CredentialID: d.CredentialID}
	events, err := ParseEvents(body)
	if err != nil {
		r.Logger.Warn("Malformed webhook body", zap.String("credentialID", d.CredentialID), zap.Error(err))
		result.Outcome = OutcomeMalformed
		return result, nil
	}
	if len(events) == 0 {
		r.Logger.Info("Webhook verification request acknowledged", zap.String("credentialID", d.CredentialID))
		result.Outcome = OutcomeVerification
		return result, nil
	}

	result.Outcome = OutcomeDispatched
	for _, ev := range events {
		result.Dispatched++
		if err := r.handler.Handle(ctx, ev, d); err != nil {
			result.Failed++
			r.Logger.Warn("Webhook event handling failed",
				zap.String("credentialID", d.CredentialID), zap.String("eventType", ev.Type), zap.Error(err))
		}
	}
	r.Logger.Info("Webhook events dispatched",
		zap.String("credentialID", d.CredentialID),
		zap.Int("events", len(events)),
		zap.Int("failed", result.Failed))
	return result, nil
}

func replierFor(c *line.Client) Replier {
	if c == nil {
		return nil
	}
	return c
}
