// Package security signs exported insight payloads so receivers can verify
// their origin and integrity.
package security

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Algorithm names the signature scheme carried in envelopes
const Algorithm = "secp256k1-keccak256"

var (
	// ErrTampered is returned when the payload no longer matches its hashes
	ErrTampered = errors.New("payload hash mismatch")

	// ErrBadSignature is returned when the signature does not recover the signer
	ErrBadSignature = errors.New("signature verification failed")

	// ErrExpired is returned for envelopes past their validity
	ErrExpired = errors.New("signature expired")
)

// Integrity carries the hashes and signature of an envelope payload
type Integrity struct {
	Algorithm  string    `json:"algorithm"`
	SHA256     string    `json:"sha256"`
	Keccak256  string    `json:"keccak256"`
	Signature  string    `json:"signature"`
	Signer     string    `json:"signer"`
	SignedAt   time.Time `json:"signed_at"`
	ValidUntil time.Time `json:"valid_until,omitempty"`
}

// Envelope is a signed payload
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Integrity Integrity       `json:"integrity"`
}

// Signer signs payloads with an ECDSA key on the secp256k1 curve
type Signer struct {
	key      *ecdsa.PrivateKey
	validity time.Duration
	now      func() time.Time
}

// NewSigner parses a hex encoded private key. An empty key generates an
// ephemeral one, which only makes sense for development.
func NewSigner(hexKey string) (*Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if hexKey == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		logrus.Warn("No signing key configured, using an ephemeral key")
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
	}

	s := &Signer{key: key, validity: 24 * time.Hour, now: time.Now}
	logrus.WithField("signer", s.Address()).Info("Payload signer initialized")
	return s, nil
}

// WithValidity sets how long signatures stay valid; zero never expires them
func (s *Signer) WithValidity(d time.Duration) *Signer {
	s.validity = d
	return s
}

// WithClock replaces the signing clock
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Address returns the Ethereum style address of the signing key
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// Sign canonicalizes payload and wraps it in a signed envelope
func (s *Signer) Sign(payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		return Envelope{}, err
	}

	digest := crypto.Keccak256(canonical)
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to sign payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	now := s.now().UTC()
	integrity := Integrity{
		Algorithm: Algorithm,
		SHA256:    hex.EncodeToString(sum[:]),
		Keccak256: hexutil.Encode(digest),
		Signature: hexutil.Encode(signature),
		Signer:    s.Address(),
		SignedAt:  now,
	}
	if s.validity > 0 {
		integrity.ValidUntil = now.Add(s.validity)
	}
	return Envelope{Payload: canonical, Integrity: integrity}, nil
}

// Verify checks the hashes, the signature and the validity of env at now.
// It returns the recovered signer address.
func Verify(env Envelope, now time.Time) (string, error) {
	canonical, err := Canonicalize(env.Payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	if hex.EncodeToString(sum[:]) != env.Integrity.SHA256 {
		return "", fmt.Errorf("%w: sha256", ErrTampered)
	}
	digest := crypto.Keccak256(canonical)
	if hexutil.Encode(digest) != env.Integrity.Keccak256 {
		return "", fmt.Errorf("%w: keccak256", ErrTampered)
	}

	signature, err := hexutil.Decode(env.Integrity.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(signature) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: signature length %d", ErrBadSignature, len(signature))
	}
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signer := crypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(signer, env.Integrity.Signer) {
		return "", fmt.Errorf("%w: recovered %s, envelope names %s", ErrBadSignature, signer, env.Integrity.Signer)
	}

	if !env.Integrity.ValidUntil.IsZero() && now.After(env.Integrity.ValidUntil) {
		return "", fmt.Errorf("%w at %s", ErrExpired, env.Integrity.ValidUntil.Format(time.RFC3339))
	}
	return signer, nil
}

// Canonicalize re-encodes JSON with sorted object keys and no insignificant
// whitespace. Numbers keep their literal form.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return out, nil
}
