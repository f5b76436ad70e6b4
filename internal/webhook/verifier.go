// Package webhook receives, verifies, classifies and dispatches inbound
// marketplace notifications.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

// Verification failure sentinels, always wrapped in a VerificationError.
var (
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrMissingSignature  = errors.New("missing signature header")
	ErrNotConfigured     = errors.New("no webhook secret configured")
)

// ErrChallenge marks a subscription challenge handshake. The carrying
// ChallengeError holds the response body; no event follows.
var ErrChallenge = errors.New("challenge handshake")

// ChallengeError short-circuits verification for subscription handshakes.
type ChallengeError struct {
	Response []byte
}

func (e *ChallengeError) Error() string { return ErrChallenge.Error() }

func (e *ChallengeError) Is(target error) bool { return target == ErrChallenge }

// VerificationError wraps a verification failure with its marketplace.
type VerificationError struct {
	Marketplace model.Marketplace
	Err         error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify %s webhook: %s", e.Marketplace, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// signatureHeaders maps each marketplace to the header carrying the
// hex HMAC-SHA256 of the request body.
var signatureHeaders = map[model.Marketplace]string{
	model.MarketplaceTrendyol:    "X-Trendyol-Signature",
	model.MarketplaceN11:         "X-N11-Signature",
	model.MarketplaceAmazon:      "X-Amz-Signature",
	model.MarketplaceEbay:        "X-Ebay-Signature",
	model.MarketplaceHepsiburada: "X-Hb-Signature",
	model.MarketplaceOzon:        "X-Ozon-Signature",
	model.MarketplacePazarama:    "X-Pazarama-Signature",
}

// challengeParams are the query parameters marketplaces use for the
// subscription handshake, checked in order.
var challengeParams = []string{"challenge_code", "hub.challenge"}

// VerifyRequest carries one raw inbound delivery.
type VerifyRequest struct {
	Marketplace model.Marketplace
	Body        []byte
	Headers     http.Header
	Query       url.Values
}

// AuditEntry records one verification attempt. Payload bytes are never
// part of the entry.
type AuditEntry struct {
	Marketplace model.Marketplace
	Outcome     string
	Challenge   bool
}

// AuditRecorder consumes verification audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// logAuditRecorder writes entries to the structured log and bumps the
// verification counter.
type logAuditRecorder struct {
	logger *slog.Logger
	sink   statsd.Sink
}

func (r *logAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	r.logger.InfoContext(ctx, "webhook verification",
		"marketplace", entry.Marketplace,
		"outcome", entry.Outcome,
		"challenge", entry.Challenge)
	if r.sink != nil {
		r.sink.Count("webhook.verify", 1, map[string]string{
			"marketplace": string(entry.Marketplace),
			"outcome":     entry.Outcome,
		})
	}
}

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	// Secrets holds the shared HMAC secret per marketplace. A marketplace
	// without a secret rejects every delivery with ErrNotConfigured.
	Secrets map[model.Marketplace]string
	// Audit overrides the default log+statsd recorder.
	Audit  AuditRecorder
	Logger *slog.Logger
	Sink   statsd.Sink
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Verifier authenticates inbound webhook deliveries.
type Verifier struct {
	secrets map[model.Marketplace]string
	audit   AuditRecorder
	now     func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(opts VerifierOptions) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := opts.Audit
	if audit == nil {
		audit = &logAuditRecorder{logger: logger.With("component", "webhook_verifier"), sink: opts.Sink}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secrets: opts.Secrets,
		audit:   audit,
		now:     now,
	}
}

// Verify authenticates one delivery. A challenge handshake returns a
// ChallengeError carrying the response body. A verified delivery returns
// the event ready for classification.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*model.VerifiedEvent, error) {
	if !req.Marketplace.Valid() {
		return nil, fmt.Errorf("invalid marketplace %q", req.Marketplace)
	}

	secret, ok := v.secrets[req.Marketplace]
	if !ok || secret == "" {
		v.audit.Record(ctx, AuditEntry{Marketplace: req.Marketplace, Outcome: "not_configured"})
		return nil, &VerificationError{Marketplace: req.Marketplace, Err: ErrNotConfigured}
	}

	for _, param := range challengeParams {
		if token := req.Query.Get(param); token != "" {
			v.audit.Record(ctx, AuditEntry{Marketplace: req.Marketplace, Outcome: "challenge", Challenge: true})
			return nil, &ChallengeError{Response: challengeResponse(token, secret)}
		}
	}

	header := signatureHeaders[req.Marketplace]
	signature := req.Headers.Get(header)
	if signature == "" {
		v.audit.Record(ctx, AuditEntry{Marketplace: req.Marketplace, Outcome: "missing_signature"})
		return nil, &VerificationError{Marketplace: req.Marketplace, Err: ErrMissingSignature}
	}

	expected := signBody(req.Body, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		v.audit.Record(ctx, AuditEntry{Marketplace: req.Marketplace, Outcome: "mismatch"})
		return nil, &VerificationError{Marketplace: req.Marketplace, Err: ErrSignatureMismatch}
	}

	v.audit.Record(ctx, AuditEntry{Marketplace: req.Marketplace, Outcome: "verified"})
	return &model.VerifiedEvent{
		Marketplace: req.Marketplace,
		RawPayload:  req.Body,
		ReceivedAt:  v.now(),
	}, nil
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func challengeResponse(token, secret string) []byte {
	digest := signBody([]byte(token), secret)
	return []byte(`{"challengeResponse":"` + digest + `"}`)
}
