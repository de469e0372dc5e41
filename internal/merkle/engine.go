// v1
// internal/merkle/engine.go
package merkle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psgoularte/DePIN-Sparked/internal/observability"
)

// Anchorer submits a closed batch root to the external ledger and returns
// the transaction reference. *ledger.Client satisfies this.
type Anchorer interface {
	AnchorRoot(ctx context.Context, root string, leafCount int, batchID string) (string, error)
}

// EngineConfig controls batch windowing and proof retention.
type EngineConfig struct {
	BatchWindow time.Duration
	ProofTTL    time.Duration
}

// Engine accumulates leaf hashes and periodically closes the open batch:
// it computes the merkle root, anchors it, and stores an inclusion proof
// for every leaf. A batch that fails to anchor stays open and is retried
// on the next tick, with the leaves gathered since appended to it.
type Engine struct {
	cfg     EngineConfig
	anchors Anchorer
	proofs  ProofStore
	records AnchorStore
	metrics *observability.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	leaves []string

	now func() time.Time
}

func NewEngine(cfg EngineConfig, anchors Anchorer, proofs ProofStore, records AnchorStore, log *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		anchors: anchors,
		proofs:  proofs,
		records: records,
		log:     log,
		now:     time.Now,
	}
}

// SetMetrics attaches anchor outcome counters. Safe to leave unset.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// Add appends a leaf hash to the open batch.
func (e *Engine) Add(leafHash string) {
	e.mu.Lock()
	e.leaves = append(e.leaves, leafHash)
	e.mu.Unlock()
}

// Pending reports how many leaves the open batch holds.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.leaves)
}

// Run closes batches on the configured window until ctx is cancelled,
// then flushes whatever is still pending.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BatchWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			e.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			e.Flush(ctx)
		}
	}
}

// Flush closes the open batch now. It is a no-op when no leaves are
// pending. On anchor failure the leaves are put back for the next close.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	leaves := e.leaves
	e.leaves = nil
	e.mu.Unlock()

	if len(leaves) == 0 {
		return
	}

	batchID := uuid.NewString()
	root, err := ComputeRoot(leaves)
	if err != nil {
		e.log.Error("batch root computation failed", "batchId", batchID, "error", err)
		return
	}

	txRef, err := e.anchors.AnchorRoot(ctx, root, len(leaves), batchID)
	if err != nil {
		e.metrics.AnchorBatch("fail")
		e.log.Warn("anchor failed, batch kept for retry",
			"batchId", batchID, "root", root, "leaves", len(leaves), "error", err)
		e.requeue(leaves)
		return
	}

	stored := 0
	for i := range leaves {
		proof, err := BuildProof(leaves, i)
		if err != nil {
			e.log.Error("proof construction failed", "batchId", batchID, "index", i, "error", err)
			continue
		}
		proof.AnchorTxRef = txRef
		if err := e.proofs.Save(ctx, proof, e.cfg.ProofTTL); err != nil {
			e.log.Error("proof store failed", "batchId", batchID, "leaf", proof.LeafHash, "error", err)
			continue
		}
		stored++
	}

	rec := AnchorRecord{
		BatchID:    batchID,
		Root:       root,
		LeafCount:  len(leaves),
		TxRef:      txRef,
		AnchoredAt: e.now().UTC(),
	}
	if err := e.records.Record(ctx, rec); err != nil {
		e.log.Error("anchor record failed", "batchId", batchID, "error", err)
	}

	e.metrics.AnchorBatch("ok")
	e.log.Info("batch anchored",
		"batchId", batchID, "root", root, "leaves", len(leaves), "proofs", stored, "txRef", txRef)
}

func (e *Engine) requeue(leaves []string) {
	e.mu.Lock()
	e.leaves = append(leaves, e.leaves...)
	e.mu.Unlock()
}
