package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

// DateSkew is the accepted window around the request Date header. Deliveries
// outside it are stale or replayed and get rejected before any crypto runs.
const DateSkew = 12 * time.Hour

// VerifyFailure names the first check an incoming signature failed.
type VerifyFailure string

const (
	VerifyMissingSignature     VerifyFailure = "missing-signature"
	VerifyUnsupportedAlgorithm VerifyFailure = "unsupported-algorithm"
	VerifyExpiredDate          VerifyFailure = "expired-date"
	VerifyDigestMismatch       VerifyFailure = "digest-mismatch"
	VerifyMalformedKey         VerifyFailure = "malformed-key"
	VerifySignatureMismatch    VerifyFailure = "signature-mismatch"
)

// VerificationResult carries the verdict for one request. KeyOwner is the
// keyId with its fragment stripped, i.e. the actor the signing key belongs
// to; it is only set when the signature actually verified.
type VerificationResult struct {
	Valid    bool
	Reason   VerifyFailure
	KeyOwner string
}

func failed(reason VerifyFailure) VerificationResult {
	return VerificationResult{Valid: false, Reason: reason}
}

// SignRequest signs an outgoing HTTP request over the canonical header set
// (request-target), host, date and digest. The Digest header must already be
// set; SendActivity computes it over the exact bytes it posts.
// keyId format: "https://example.com/u/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest checks an incoming delivery against the presumed sender's
// public key. The checks run cheapest-first and the result names the first
// one that failed, so callers can distinguish a key-rotation candidate
// (signature-mismatch) from a tampered body (digest-mismatch) or a replay
// (expired-date). body must be the exact bytes the signature covers.
func VerifyRequest(req *http.Request, body []byte, publicKeyPem string) VerificationResult {
	sigHeader := req.Header.Get("Signature")
	if sigHeader == "" {
		sigHeader = req.Header.Get("Authorization")
	}
	if sigHeader == "" {
		return failed(VerifyMissingSignature)
	}

	if algo := signatureParam(sigHeader, "algorithm"); algo != "" {
		switch algo {
		case "rsa-sha256", "hs2019":
		default:
			return failed(VerifyUnsupportedAlgorithm)
		}
	}

	dateHeader := req.Header.Get("Date")
	if dateHeader == "" {
		return failed(VerifyExpiredDate)
	}
	sent, err := http.ParseTime(dateHeader)
	if err != nil {
		return failed(VerifyExpiredDate)
	}
	if skew := time.Since(sent); skew > DateSkew || skew < -DateSkew {
		return failed(VerifyExpiredDate)
	}

	digestHeader := req.Header.Get("Digest")
	if digestHeader == "" {
		return failed(VerifyDigestMismatch)
	}
	hash := sha256.Sum256(body)
	want := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
	if !strings.EqualFold(digestHeader, want) {
		return failed(VerifyDigestMismatch)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return failed(VerifyMalformedKey)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return failed(VerifyMissingSignature)
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return failed(VerifySignatureMismatch)
	}

	// keyId is usually "https://example.com/u/alice#main-key";
	// the part before the fragment is the owning actor
	return VerificationResult{
		Valid:    true,
		KeyOwner: strings.Split(keyId, "#")[0],
	}
}

// signatureParam pulls a single k="v" parameter out of a Signature header.
func signatureParam(header, key string) string {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, key+"=") {
			continue
		}
		return strings.Trim(strings.TrimPrefix(part, key+"="), `"`)
	}
	return ""
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
