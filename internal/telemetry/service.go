// v1
// internal/telemetry/service.go

// Package telemetry runs the trust pipeline for device submissions.
// Checks are ordered so that revocation and ownership are settled before
// any signature work, the rate limiter is probed before the expensive
// checks, and the binding rate-limit lock is taken only after the
// signature and freshness checks have passed.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/psgoularte/DePIN-Sparked/internal/canonical"
	"github.com/psgoularte/DePIN-Sparked/internal/freshness"
	"github.com/psgoularte/DePIN-Sparked/internal/ledger"
	"github.com/psgoularte/DePIN-Sparked/internal/merkle"
	"github.com/psgoularte/DePIN-Sparked/internal/observability"
	"github.com/psgoularte/DePIN-Sparked/internal/publish"
	"github.com/psgoularte/DePIN-Sparked/internal/ratelimit"
	"github.com/psgoularte/DePIN-Sparked/internal/readings"
	"github.com/psgoularte/DePIN-Sparked/internal/registry"
	"github.com/psgoularte/DePIN-Sparked/internal/sigcheck"
)

var (
	ErrRevoked          = errors.New("telemetry: device revoked")
	ErrRateLimited      = errors.New("telemetry: submission rate exceeded")
	ErrInvalidSignature = errors.New("telemetry: signature does not verify")
	ErrValidation       = errors.New("telemetry: malformed submission")
	ErrStore            = errors.New("telemetry: device state not persisted")
)

// Submission is one signed device reading as received on the wire.
type Submission struct {
	TokenAddress string          `json:"tokenAddress"`
	Payload      json.RawMessage `json:"payload"`
	Signature    json.RawMessage `json:"signature"`
}

// Accepted is the acknowledgement for a submission that passed every check.
type Accepted struct {
	LeafHash   string    `json:"leafHash"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// OwnerResolver reports the current on-ledger owner of a device token.
// *ledger.Client satisfies this.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, tokenAddress string) (string, error)
}

// Batcher receives leaf hashes of accepted submissions. *merkle.Engine
// satisfies this.
type Batcher interface {
	Add(leafHash string)
}

// EventPublisher forwards accepted submissions downstream.
// *publish.Publisher satisfies this.
type EventPublisher interface {
	Publish(ctx context.Context, ev publish.Event) error
}

// Scorer runs the advisory plausibility check off the request path.
// *analysis.Classifier satisfies this.
type Scorer interface {
	ClassifyAsync(tokenAddress string, canonical []byte)
}

// Config carries the pipeline's tunables.
type Config struct {
	RateWindow time.Duration
	ReadingTTL time.Duration
	Freshness  freshness.Policy
}

// Service wires the trust checks into the mandated order.
type Service struct {
	cfg      Config
	devices  registry.Store
	owners   OwnerResolver
	limiter  ratelimit.Limiter
	batch    Batcher
	readings readings.Store
	events   EventPublisher
	scorer   Scorer
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewService(cfg Config, devices registry.Store, owners OwnerResolver, limiter ratelimit.Limiter,
	batch Batcher, store readings.Store, events EventPublisher, scorer Scorer,
	metrics *observability.Metrics, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		devices:  devices,
		owners:   owners,
		limiter:  limiter,
		batch:    batch,
		readings: store,
		events:   events,
		scorer:   scorer,
		metrics:  metrics,
		log:      log.With(slog.String("component", "telemetry")),
		now:      time.Now,
	}
}

// Ingest runs one submission through the pipeline. The returned error is
// one of the package sentinels (possibly wrapped), registry.ErrNotFound,
// ledger.ErrUnavailable, or a freshness error.
func (s *Service) Ingest(ctx context.Context, sub Submission) (*Accepted, error) {
	log := s.log.With(slog.String("submissionId", uuid.NewString()), slog.String("token", sub.TokenAddress))

	if sub.TokenAddress == "" {
		s.metrics.IngestDecision("validation_error")
		return nil, fmt.Errorf("%w: tokenAddress is required", ErrValidation)
	}

	device, err := s.devices.GetByToken(ctx, sub.TokenAddress)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.metrics.IngestDecision("not_registered")
			return nil, err
		}
		s.metrics.IngestDecision("store_error")
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	if device.Revoked {
		s.metrics.IngestDecision("revoked")
		log.Warn("submission from revoked device")
		return nil, ErrRevoked
	}

	if err := s.reconcileOwner(ctx, log, device); err != nil {
		return nil, err
	}

	held, err := s.limiter.Held(ctx, sub.TokenAddress)
	if err != nil {
		s.metrics.IngestDecision("store_error")
		return nil, fmt.Errorf("%w: rate limiter probe: %v", ErrStore, err)
	}
	if held {
		s.metrics.IngestDecision("rate_limited")
		return nil, ErrRateLimited
	}

	payload, err := canonical.FromJSON(sub.Payload)
	if err != nil {
		s.metrics.IngestDecision("validation_error")
		return nil, fmt.Errorf("%w: payload: %v", ErrValidation, err)
	}
	ts, ok := payload.Get("timestamp").Int64()
	if !ok {
		s.metrics.IngestDecision("validation_error")
		return nil, fmt.Errorf("%w: payload.timestamp must be an integer", ErrValidation)
	}
	canon, err := canonical.Encode(payload)
	if err != nil {
		s.metrics.IngestDecision("validation_error")
		return nil, fmt.Errorf("%w: payload: %v", ErrValidation, err)
	}

	sig, err := sigcheck.ParseSignature(sub.Signature)
	if err != nil {
		s.metrics.IngestDecision("validation_error")
		return nil, fmt.Errorf("%w: signature: %v", ErrValidation, err)
	}
	valid, err := sigcheck.Verify(device.PublicKey, canon, sig)
	if err != nil {
		s.metrics.IngestDecision("validation_error")
		return nil, fmt.Errorf("%w: signature: %v", ErrValidation, err)
	}
	if !valid {
		s.metrics.IngestDecision("invalid_signature")
		log.Warn("signature rejected")
		return nil, ErrInvalidSignature
	}

	if err := s.cfg.Freshness.Check(s.now(), ts, device.LastSeen); err != nil {
		s.metrics.IngestDecision(freshnessOutcome(err))
		return nil, err
	}

	// The binding lock is taken only now, after the submission has proven
	// authentic. Losing the race to a concurrent authentic submission
	// counts as rate limiting.
	acquired, err := s.limiter.Acquire(ctx, sub.TokenAddress, s.cfg.RateWindow)
	if err != nil {
		s.metrics.IngestDecision("store_error")
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrStore, err)
	}
	if !acquired {
		s.metrics.IngestDecision("rate_limited")
		return nil, ErrRateLimited
	}

	// The watermark must be durable before the device is acknowledged,
	// otherwise a crash would reopen the replay window.
	if _, err := s.devices.Upsert(ctx, device.PublicKey, registry.Patch{LastSeen: registry.Int64Ptr(ts)}); err != nil {
		s.metrics.IngestDecision("store_error")
		return nil, fmt.Errorf("%w: last-seen watermark: %v", ErrStore, err)
	}

	receivedAt := s.now().UTC()
	leafHash := merkle.HashLeaf(canon)
	reading := readings.Reading{
		TokenAddress: sub.TokenAddress,
		LeafHash:     leafHash,
		Canonical:    canon,
		Timestamp:    ts,
		ReceivedAt:   receivedAt,
	}
	if err := s.readings.Save(ctx, reading, s.cfg.ReadingTTL); err != nil {
		log.Error("reading store failed", "leafHash", leafHash, "error", err)
	}
	s.batch.Add(leafHash)

	if s.events != nil {
		ev := publish.Event{
			TokenAddress: sub.TokenAddress,
			LeafHash:     leafHash,
			Timestamp:    ts,
			Payload:      json.RawMessage(canon),
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			log.Warn("downstream publish failed", "leafHash", leafHash, "error", err)
		}
	}
	if s.scorer != nil {
		s.scorer.ClassifyAsync(sub.TokenAddress, canon)
	}

	s.metrics.IngestDecision("accepted")
	log.Info("submission accepted", "leafHash", leafHash, "timestamp", ts)
	return &Accepted{LeafHash: leafHash, ReceivedAt: receivedAt}, nil
}

// reconcileOwner refreshes the stored owner from the ledger. A transfer
// does not interrupt ingestion; the record simply follows the ledger.
func (s *Service) reconcileOwner(ctx context.Context, log *slog.Logger, device *registry.Device) error {
	start := s.now()
	owner, err := s.owners.OwnerOf(ctx, device.TokenAddress)
	s.metrics.LedgerRequest(s.now().Sub(start), err == nil)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownToken) {
			s.metrics.IngestDecision("not_registered")
			return fmt.Errorf("%w: token unknown to ledger", registry.ErrNotFound)
		}
		// Unreachable ledger degrades to the last-known owner; identity
		// issuance is the only path where ledger failure is fatal.
		log.Warn("owner reconciliation skipped", "error", err)
		return nil
	}
	if owner == device.OwnerAddress {
		return nil
	}
	log.Info("device owner changed", "previous", device.OwnerAddress, "current", owner)
	updated, err := s.devices.Upsert(ctx, device.PublicKey, registry.Patch{OwnerAddress: registry.StringPtr(owner)})
	if err != nil {
		s.metrics.IngestDecision("store_error")
		return fmt.Errorf("%w: owner reconciliation: %v", ErrStore, err)
	}
	*device = *updated
	return nil
}

func freshnessOutcome(err error) string {
	switch {
	case errors.Is(err, freshness.ErrTooOld):
		return "too_old"
	case errors.Is(err, freshness.ErrTooFuture):
		return "too_future"
	case errors.Is(err, freshness.ErrReplay):
		return "replay_detected"
	default:
		return "freshness_error"
	}
}
