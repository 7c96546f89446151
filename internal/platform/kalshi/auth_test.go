package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestSignerHeadersVerify(t *testing.T) {
	key, pemBytes := testKeyPEM(t)

	signer, err := NewSigner("key-123", pemBytes)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	header, err := signer.Headers(http.MethodPost, "/trade-api/v2/portfolio/orders", now)
	if err != nil {
		t.Fatalf("headers: %v", err)
	}

	if got := header.Get("KALSHI-ACCESS-KEY"); got != "key-123" {
		t.Fatalf("access key = %q", got)
	}
	ts := header.Get("KALSHI-ACCESS-TIMESTAMP")
	if want := strconv.FormatInt(now.UnixMilli(), 10); ts != want {
		t.Fatalf("timestamp = %q, want %q", ts, want)
	}

	sig, err := base64.StdEncoding.DecodeString(header.Get("KALSHI-ACCESS-SIGNATURE"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte(ts + http.MethodPost + "/trade-api/v2/portfolio/orders"))
	err = rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestNewSignerAcceptsPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if _, err := NewSigner("key-123", pemBytes); err != nil {
		t.Fatalf("pkcs1 signer: %v", err)
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	if _, err := NewSigner("key-123", []byte("not a key")); err == nil {
		t.Fatal("expected error for non-PEM input")
	}
}
