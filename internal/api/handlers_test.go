// v1
// internal/api/handlers_test.go
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/psgoularte/DePIN-Sparked/internal/challenge"
	"github.com/psgoularte/DePIN-Sparked/internal/freshness"
	"github.com/psgoularte/DePIN-Sparked/internal/ledger"
	"github.com/psgoularte/DePIN-Sparked/internal/merkle"
	"github.com/psgoularte/DePIN-Sparked/internal/observability"
	"github.com/psgoularte/DePIN-Sparked/internal/ratelimit"
	"github.com/psgoularte/DePIN-Sparked/internal/readings"
	"github.com/psgoularte/DePIN-Sparked/internal/registry"
	"github.com/psgoularte/DePIN-Sparked/internal/telemetry"
)

type fakeMinter struct {
	next int
}

func (f *fakeMinter) MintIdentity(_ context.Context, _, _ string) (ledger.MintResult, error) {
	f.next++
	return ledger.MintResult{
		TokenAddress: fmt.Sprintf("tok-%d", f.next),
		TxRef:        fmt.Sprintf("mint-tx-%d", f.next),
	}, nil
}

type staticOwners struct{ owner string }

func (s staticOwners) OwnerOf(context.Context, string) (string, error) { return s.owner, nil }

type recordAnchorer struct{}

func (recordAnchorer) AnchorRoot(_ context.Context, _ string, _ int, batchID string) (string, error) {
	return "anchor-tx-" + batchID, nil
}

type gatewayFixture struct {
	srv     *httptest.Server
	devices *registry.MemoryStore
	engine  *merkle.Engine
	proofs  *merkle.MemoryProofStore
}

func newGateway(t *testing.T) *gatewayFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	devices := registry.NewMemoryStore()
	proofs := merkle.NewMemoryProofStore()
	engine := merkle.NewEngine(
		merkle.EngineConfig{BatchWindow: time.Hour, ProofTTL: time.Hour},
		recordAnchorer{}, proofs, merkle.NewMemoryAnchorStore(), log)

	pipeline := telemetry.NewService(
		telemetry.Config{
			RateWindow: time.Millisecond,
			ReadingTTL: time.Hour,
			Freshness:  freshness.DefaultPolicy(),
		},
		devices, staticOwners{owner: "owner-1"}, ratelimit.NewMemoryLimiter(),
		engine, readings.NewMemoryStore(), nil, nil, metrics, log)

	h := &Handlers{
		Log:          log,
		Devices:      devices,
		Challenges:   challenge.NewManager(devices, 5*time.Minute),
		Minter:       &fakeMinter{},
		Pipeline:     pipeline,
		Proofs:       proofs,
		ChallengeTTL: 5 * time.Minute,
	}
	srv := httptest.NewServer(NewRouter(h, metrics))
	t.Cleanup(srv.Close)
	return &gatewayFixture{srv: srv, devices: devices, engine: engine, proofs: proofs}
}

type deviceKey struct {
	publicHex string
	sign      func(msg []byte) json.RawMessage
}

func newDeviceKey(t *testing.T) *deviceKey {
	t.Helper()
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	k := &deviceKey{publicHex: hex.EncodeToString(ethcrypto.FromECDSAPub(&priv.PublicKey))}
	k.sign = func(msg []byte) json.RawMessage {
		digest := sha256.Sum256(msg)
		raw, err := ethcrypto.Sign(digest[:], priv)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		return json.RawMessage(fmt.Sprintf(`{"r":"%s","s":"%s"}`,
			hex.EncodeToString(raw[:32]), hex.EncodeToString(raw[32:64])))
	}
	return k
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func strField(t *testing.T, m map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(m[key], &s); err != nil {
		t.Fatalf("field %s: %v (raw %s)", key, err, m[key])
	}
	return s
}

// enroll walks both stages of registration and returns the token address.
func enroll(t *testing.T, fx *gatewayFixture, key *deviceKey) string {
	t.Helper()
	url := fx.srv.URL + "/api/v1/devices/register"

	resp, body := postJSON(t, url, map[string]any{
		"publicKey":  key.publicHex,
		"macAddress": "aa:bb:cc:dd:ee:ff",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("challenge stage status = %d", resp.StatusCode)
	}
	nonce := strField(t, body, "challenge")

	resp, body = postJSON(t, url, map[string]any{
		"publicKey": key.publicHex,
		"challengeResponse": map[string]any{
			"challenge": nonce,
			"signature": key.sign([]byte(nonce)),
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("consume stage status = %d, body %v", resp.StatusCode, body)
	}
	if got := strField(t, body, "status"); got != "success" {
		t.Fatalf("status = %q, want success", got)
	}
	return strField(t, body, "identityTokenAddress")
}

func TestRegisterTwoStage(t *testing.T) {
	fx := newGateway(t)
	key := newDeviceKey(t)
	token := enroll(t, fx, key)
	if token == "" {
		t.Fatal("empty token address")
	}
	device, err := fx.devices.GetByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if device.PublicKey != key.publicHex {
		t.Fatal("device record not bound to enrolling key")
	}
	if device.MACAddress != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("mac = %s", device.MACAddress)
	}
}

func TestRegisterWrongKeyRejected(t *testing.T) {
	fx := newGateway(t)
	key := newDeviceKey(t)
	imposter := newDeviceKey(t)
	url := fx.srv.URL + "/api/v1/devices/register"

	resp, body := postJSON(t, url, map[string]any{"publicKey": key.publicHex})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("challenge stage status = %d", resp.StatusCode)
	}
	nonce := strField(t, body, "challenge")

	resp, body = postJSON(t, url, map[string]any{
		"publicKey": key.publicHex,
		"challengeResponse": map[string]any{
			"challenge": nonce,
			"signature": imposter.sign([]byte(nonce)),
		},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := strField(t, body, "error"); got != string(CodeInvalidSignature) {
		t.Fatalf("error = %s, want %s", got, CodeInvalidSignature)
	}

	// The failed attempt burned the nonce.
	resp, body = postJSON(t, url, map[string]any{
		"publicKey": key.publicHex,
		"challengeResponse": map[string]any{
			"challenge": nonce,
			"signature": key.sign([]byte(nonce)),
		},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed nonce status = %d, want 401", resp.StatusCode)
	}
	if got := strField(t, body, "error"); got != string(CodeChallengeError) {
		t.Fatalf("error = %s, want %s", got, CodeChallengeError)
	}
}

func TestTelemetryEndToEnd(t *testing.T) {
	fx := newGateway(t)
	key := newDeviceKey(t)
	token := enroll(t, fx, key)

	payload := []byte(fmt.Sprintf(`{"temperature":21.5,"timestamp":%d}`, time.Now().Unix()))
	resp, body := postJSON(t, fx.srv.URL+"/api/v1/telemetry", map[string]any{
		"tokenAddress": token,
		"payload":      json.RawMessage(payload),
		"signature":    key.sign(payload),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("telemetry status = %d, body %v", resp.StatusCode, body)
	}
	var accepted bool
	if err := json.Unmarshal(body["success"], &accepted); err != nil || !accepted {
		t.Fatalf("success field = %s, want true (err %v)", body["success"], err)
	}
	leafHash := strField(t, body, "leafHash")

	// Not anchored yet.
	getResp, err := http.Get(fx.srv.URL + "/api/v1/proofs/" + leafHash)
	if err != nil {
		t.Fatalf("GET proof: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("proof before anchor status = %d, want 404", getResp.StatusCode)
	}

	fx.engine.Flush(context.Background())

	getResp, err = http.Get(fx.srv.URL + "/api/v1/proofs/" + leafHash)
	if err != nil {
		t.Fatalf("GET proof: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("proof after anchor status = %d", getResp.StatusCode)
	}
	var proof merkle.Proof
	if err := json.NewDecoder(getResp.Body).Decode(&proof); err != nil {
		t.Fatalf("decode proof: %v", err)
	}
	if proof.LeafHash != leafHash {
		t.Fatalf("proof leafHash = %s, want %s", proof.LeafHash, leafHash)
	}
	if proof.AnchorTxRef == "" {
		t.Fatal("proof missing anchor txRef")
	}
	if !merkle.VerifyProof(proof.LeafHash, proof.Siblings, proof.Root) {
		t.Fatal("served proof does not verify")
	}
}

func TestTelemetryUnknownDevice(t *testing.T) {
	fx := newGateway(t)
	key := newDeviceKey(t)
	payload := []byte(fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()))
	resp, body := postJSON(t, fx.srv.URL+"/api/v1/telemetry", map[string]any{
		"tokenAddress": "tok-unknown",
		"payload":      json.RawMessage(payload),
		"signature":    key.sign(payload),
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if got := strField(t, body, "error"); got != string(CodeNotRegistered) {
		t.Fatalf("error = %s, want %s", got, CodeNotRegistered)
	}
}

func TestRevokeFlow(t *testing.T) {
	fx := newGateway(t)
	key := newDeviceKey(t)
	token := enroll(t, fx, key)

	// A signature by another key must not revoke.
	imposter := newDeviceKey(t)
	resp, _ := postJSON(t, fx.srv.URL+"/api/v1/devices/revoke", map[string]any{
		"tokenAddress": token,
		"signature":    imposter.sign([]byte("revoke:" + token)),
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("imposter revoke status = %d, want 401", resp.StatusCode)
	}

	resp, _ = postJSON(t, fx.srv.URL+"/api/v1/devices/revoke", map[string]any{
		"tokenAddress": token,
		"signature":    key.sign([]byte("revoke:" + token)),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}

	// Telemetry from the revoked device is refused.
	payload := []byte(fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()))
	resp, body := postJSON(t, fx.srv.URL+"/api/v1/telemetry", map[string]any{
		"tokenAddress": token,
		"payload":      json.RawMessage(payload),
		"signature":    key.sign(payload),
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("revoked telemetry status = %d, want 403", resp.StatusCode)
	}
	if got := strField(t, body, "error"); got != string(CodeRevoked) {
		t.Fatalf("error = %s, want %s", got, CodeRevoked)
	}
}

func TestHealth(t *testing.T) {
	fx := newGateway(t)
	resp, err := http.Get(fx.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
