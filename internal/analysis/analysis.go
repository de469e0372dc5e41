// v1
// internal/analysis/analysis.go

// Package analysis scores accepted telemetry for physical plausibility
// using a hosted zero-shot classification model. The score is advisory:
// it is attached to logs and events but never gates acceptance, and a
// slow or failing model must not delay the device acknowledgement.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrDisabled is returned when no model endpoint is configured.
var ErrDisabled = errors.New("analysis: classifier disabled")

// Config controls the classifier endpoint and its time budget.
type Config struct {
	Enabled bool
	BaseURL string
	Token   string
	Timeout time.Duration
	Labels  []string
}

// DefaultLabels partition submissions into plausible and anomalous.
func DefaultLabels() []string {
	return []string{"plausible sensor reading", "anomalous sensor reading"}
}

// Result is the top classification for one submission.
type Result struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Plausible reports whether the top label is the plausible class.
func (r Result) Plausible() bool {
	return strings.HasPrefix(r.Label, "plausible")
}

// Classifier calls the zero-shot model over HTTP.
type Classifier struct {
	cfg Config
	h   *http.Client
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabels()
	}
	return &Classifier{
		cfg: cfg,
		h:   &http.Client{Timeout: cfg.Timeout},
		log: log.With(slog.String("component", "analysis")),
	}
}

type classifyRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		CandidateLabels []string `json:"candidate_labels"`
	} `json:"parameters"`
}

type classifyResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// Classify sends the canonical payload to the model and returns the top
// label. Callers run it off the request path and treat errors as a
// missing score, not a rejection.
func (c *Classifier) Classify(ctx context.Context, canonical []byte) (Result, error) {
	if !c.cfg.Enabled || strings.TrimSpace(c.cfg.BaseURL) == "" {
		return Result{}, ErrDisabled
	}
	var reqBody classifyRequest
	reqBody.Inputs = string(canonical)
	reqBody.Parameters.CandidateLabels = c.cfg.Labels
	b, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(b))
	if err != nil {
		return Result{}, fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.h.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: model call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("analysis: model returned %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("analysis: decode response: %w", err)
	}
	if len(out.Labels) == 0 || len(out.Scores) == 0 {
		return Result{}, errors.New("analysis: empty classification")
	}
	return Result{Label: out.Labels[0], Score: out.Scores[0]}, nil
}

// ClassifyAsync runs Classify in the background and logs the outcome.
func (c *Classifier) ClassifyAsync(tokenAddress string, canonical []byte) {
	if !c.cfg.Enabled {
		return
	}
	go func() {
		res, err := c.Classify(context.Background(), canonical)
		if err != nil {
			if !errors.Is(err, ErrDisabled) {
				c.log.Warn("plausibility check unavailable", "token", tokenAddress, "error", err)
			}
			return
		}
		c.log.Info("plausibility scored",
			"token", tokenAddress, "label", res.Label, "score", res.Score, "plausible", res.Plausible())
	}()
}
