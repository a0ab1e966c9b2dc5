package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"testing"
	"time"
)

// generateTestKeyPair generates an RSA key pair for testing
func generateTestKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return privateKey
}

// publicKeyToPEM converts a public key to a PEM string
func publicKeyToPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	}))
}

// privateKeyToPEM converts a private key to a PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// signedRequest builds a POST with the given body, signed by key under keyId
func signedRequest(t *testing.T, body []byte, key *rsa.PrivateKey, keyId string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "https://bm.example/api/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	hash := sha256.Sum256(body)
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]))

	if err := SignRequest(req, key, keyId); err != nil {
		t.Fatalf("Failed to sign request: %v", err)
	}
	return req
}

func TestVerifyRequestRoundTrip(t *testing.T) {
	key := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)
	keyId := "https://social.example/u/alice#main-key"

	req := signedRequest(t, body, key, keyId)
	result := VerifyRequest(req, body, publicKeyToPEM(t, &key.PublicKey))

	if !result.Valid {
		t.Fatalf("Expected valid signature, got failure: %s", result.Reason)
	}
	if result.KeyOwner != "https://social.example/u/alice" {
		t.Errorf("Expected key owner 'https://social.example/u/alice', got '%s'", result.KeyOwner)
	}
}

func TestVerifyRequestWrongKey(t *testing.T) {
	signingKey := generateTestKeyPair(t)
	otherKey := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)

	req := signedRequest(t, body, signingKey, "https://social.example/u/alice#main-key")
	result := VerifyRequest(req, body, publicKeyToPEM(t, &otherKey.PublicKey))

	if result.Valid {
		t.Fatal("Expected verification failure with the wrong key")
	}
	if result.Reason != VerifySignatureMismatch {
		t.Errorf("Expected reason '%s', got '%s'", VerifySignatureMismatch, result.Reason)
	}
}

func TestVerifyRequestTamperedBody(t *testing.T) {
	key := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)

	req := signedRequest(t, body, key, "https://social.example/u/alice#main-key")
	tampered := []byte(`{"type":"Delete"}`)
	result := VerifyRequest(req, tampered, publicKeyToPEM(t, &key.PublicKey))

	if result.Valid {
		t.Fatal("Expected verification failure for a tampered body")
	}
	if result.Reason != VerifyDigestMismatch {
		t.Errorf("Expected reason '%s', got '%s'", VerifyDigestMismatch, result.Reason)
	}
}

func TestVerifyRequestStaleDate(t *testing.T) {
	key := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)

	req := signedRequest(t, body, key, "https://social.example/u/alice#main-key")
	req.Header.Set("Date", time.Now().Add(-24*time.Hour).UTC().Format(http.TimeFormat))
	result := VerifyRequest(req, body, publicKeyToPEM(t, &key.PublicKey))

	if result.Valid {
		t.Fatal("Expected verification failure for a stale date")
	}
	if result.Reason != VerifyExpiredDate {
		t.Errorf("Expected reason '%s', got '%s'", VerifyExpiredDate, result.Reason)
	}
}

func TestVerifyRequestMissingSignature(t *testing.T) {
	key := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)

	req, err := http.NewRequest("POST", "https://bm.example/api/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	result := VerifyRequest(req, body, publicKeyToPEM(t, &key.PublicKey))

	if result.Valid {
		t.Fatal("Expected verification failure without a signature")
	}
	if result.Reason != VerifyMissingSignature {
		t.Errorf("Expected reason '%s', got '%s'", VerifyMissingSignature, result.Reason)
	}
}

func TestVerifyRequestUnsupportedAlgorithm(t *testing.T) {
	key := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)

	req := signedRequest(t, body, key, "https://social.example/u/alice#main-key")
	req.Header.Set("Signature", `keyId="https://social.example/u/alice#main-key",algorithm="rsa-md5",headers="(request-target) host date digest",signature="AAAA"`)
	result := VerifyRequest(req, body, publicKeyToPEM(t, &key.PublicKey))

	if result.Valid {
		t.Fatal("Expected verification failure for an unsupported algorithm")
	}
	if result.Reason != VerifyUnsupportedAlgorithm {
		t.Errorf("Expected reason '%s', got '%s'", VerifyUnsupportedAlgorithm, result.Reason)
	}
}

func TestVerifyRequestMalformedKey(t *testing.T) {
	key := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)

	req := signedRequest(t, body, key, "https://social.example/u/alice#main-key")
	result := VerifyRequest(req, body, "not a pem block")

	if result.Valid {
		t.Fatal("Expected verification failure for a malformed key")
	}
	if result.Reason != VerifyMalformedKey {
		t.Errorf("Expected reason '%s', got '%s'", VerifyMalformedKey, result.Reason)
	}
}

func TestParseKeysRoundTrip(t *testing.T) {
	key := generateTestKeyPair(t)

	parsedPriv, err := ParsePrivateKey(privateKeyToPEM(key))
	if err != nil {
		t.Fatalf("Failed to parse private key: %v", err)
	}
	if parsedPriv.N.Cmp(key.N) != 0 {
		t.Error("Parsed private key does not match the original")
	}

	parsedPub, err := ParsePublicKey(publicKeyToPEM(t, &key.PublicKey))
	if err != nil {
		t.Fatalf("Failed to parse public key: %v", err)
	}
	if parsedPub.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("Parsed public key does not match the original")
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicKey("garbage"); err == nil {
		t.Error("Expected error for non-PEM input")
	}
}
