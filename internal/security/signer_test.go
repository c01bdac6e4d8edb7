package security

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyHex  = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"
	testAddress = "0x970E8128AB834E8EAC17Ab8E3812F010678CF791"
)

var signedAt = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner("0x" + testKeyHex)
	require.NoError(t, err)
	return s.WithClock(func() time.Time { return signedAt })
}

type batch struct {
	PracticeID string   `json:"practice_id"`
	Titles     []string `json:"titles"`
	Total      float64  `json:"total"`
}

func TestSignAndVerify(t *testing.T) {
	s := testSigner(t)
	assert.True(t, strings.EqualFold(testAddress, s.Address()))

	env, err := s.Sign(batch{PracticeID: "practice-1", Titles: []string{"High No-Show Rate Alert"}, Total: 90000})
	require.NoError(t, err)
	assert.Equal(t, Algorithm, env.Integrity.Algorithm)
	assert.Equal(t, signedAt.Add(24*time.Hour), env.Integrity.ValidUntil)
	assert.JSONEq(t, `{"practice_id":"practice-1","titles":["High No-Show Rate Alert"],"total":90000}`, string(env.Payload))

	signer, err := Verify(env, signedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, s.Address(), signer)
}

func TestVerifySurvivesTransport(t *testing.T) {
	env, err := testSigner(t).Sign(map[string]any{"b": 1, "a": []int{3, 2}})
	require.NoError(t, err)

	wire, err := json.MarshalIndent(env, "", "  ")
	require.NoError(t, err)

	var received Envelope
	require.NoError(t, json.Unmarshal(wire, &received))
	_, err = Verify(received, signedAt)
	assert.NoError(t, err)
}

func TestVerifyDetectsTampering(t *testing.T) {
	env, err := testSigner(t).Sign(batch{PracticeID: "practice-1", Total: 100})
	require.NoError(t, err)

	tampered := env
	tampered.Payload = []byte(`{"practice_id":"practice-1","titles":null,"total":1000}`)
	_, err = Verify(tampered, signedAt)
	assert.ErrorIs(t, err, ErrTampered)

	other, err := NewSigner("")
	require.NoError(t, err)
	forged := env
	forged.Integrity.Signer = other.Address()
	_, err = Verify(forged, signedAt)
	assert.ErrorIs(t, err, ErrBadSignature)

	truncated := env
	truncated.Integrity.Signature = env.Integrity.Signature[:20]
	_, err = Verify(truncated, signedAt)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyExpiry(t *testing.T) {
	env, err := testSigner(t).WithValidity(time.Hour).Sign(batch{PracticeID: "practice-1"})
	require.NoError(t, err)

	_, err = Verify(env, signedAt.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrExpired)

	env, err = testSigner(t).WithValidity(0).Sign(batch{PracticeID: "practice-1"})
	require.NoError(t, err)
	assert.True(t, env.Integrity.ValidUntil.IsZero())
	_, err = Verify(env, signedAt.Add(365*24*time.Hour))
	assert.NoError(t, err)
}

func TestCanonicalize(t *testing.T) {
	a, err := Canonicalize([]byte(`{ "z": 1.5, "a": {"y": true, "x": null} }`))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{"a":{"x":null,"y":true},"z":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
	assert.Equal(t, `{"a":{"x":null,"y":true},"z":1.5}`, string(a))

	_, err = Canonicalize([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-hex")
	assert.Error(t, err)
}
