// v2
// internal/ledger/client.go
// Package ledger is the HTTP client for the external ledger service. The
// gateway consumes three operations: current owner of an identity token,
// minting a new identity token, and anchoring a merkle root. Everything
// ledger-side beyond this contract is out of scope.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/psgoularte/DePIN-Sparked/internal/breaker"
)

var (
	// ErrUnavailable covers transport failures and 5xx answers; callers
	// that can tolerate stale state degrade to the last-known value.
	ErrUnavailable = errors.New("ledger: unavailable")
	// ErrUnknownToken is the ledger's 404 for a token it has never issued.
	ErrUnknownToken = errors.New("ledger: unknown token")
)

type Client struct {
	base string
	h    *http.Client
	brk  *breaker.Breaker
	log  *slog.Logger
}

func New(base string, timeout time.Duration, brk *breaker.Breaker, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: base,
		h:    &http.Client{Timeout: timeout},
		brk:  brk,
		log:  log,
	}
}

// MintResult is the ledger's answer to an identity issuance request.
type MintResult struct {
	TokenAddress string `json:"tokenAddress"`
	TxRef        string `json:"txRef"`
}

// OwnerOf returns the current owner address of an identity token.
func (c *Client) OwnerOf(ctx context.Context, tokenAddress string) (string, error) {
	var out struct {
		Owner string `json:"owner"`
	}
	err := c.do(ctx, http.MethodGet, "/tokens/"+tokenAddress+"/owner", nil, &out)
	if err != nil {
		return "", err
	}
	return out.Owner, nil
}

// MintIdentity asks the ledger to issue and fund a fresh identity token for
// an enrolled device.
func (c *Client) MintIdentity(ctx context.Context, publicKey, macAddress string) (MintResult, error) {
	body := map[string]string{"publicKey": publicKey, "macAddress": macAddress}
	var out MintResult
	if err := c.do(ctx, http.MethodPost, "/identities", body, &out); err != nil {
		return MintResult{}, err
	}
	if out.TokenAddress == "" {
		return MintResult{}, fmt.Errorf("%w: mint response missing token address", ErrUnavailable)
	}
	return out, nil
}

// AnchorRoot submits a closed batch's merkle root and returns the ledger
// transaction reference.
func (c *Client) AnchorRoot(ctx context.Context, root string, leafCount int, batchID string) (string, error) {
	body := map[string]any{"root": root, "leafCount": leafCount, "batchId": batchID}
	var out struct {
		TxRef string `json:"txRef"`
	}
	if err := c.do(ctx, http.MethodPost, "/anchors", body, &out); err != nil {
		return "", err
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("%w: anchor response missing txRef", ErrUnavailable)
	}
	return out.TxRef, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	// 4xx answers are definitive ledger decisions, not health failures;
	// they are reported to the caller without tripping the breaker.
	var bizErr error
	op := func(ctx context.Context) error {
		bizErr = nil
		var rdr io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("ledger: encode request: %w", err)
			}
			rdr = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
		if err != nil {
			return fmt.Errorf("ledger: build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.h.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			bizErr = ErrUnknownToken
			return nil
		case resp.StatusCode >= 500:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, b)
		case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			bizErr = fmt.Errorf("ledger: %s returned %d: %s", path, resp.StatusCode, b)
			return nil
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
		}
		return nil
	}

	var err error
	if c.brk == nil {
		err = op(ctx)
	} else {
		err = c.brk.Execute(ctx, op)
		if errors.Is(err, breaker.ErrOpen) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if err != nil {
		return err
	}
	return bizErr
}
