package rating

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/google/uuid"
)

// tokenClaims is the signed payload of a matchup token.
type tokenClaims struct {
	A       string `json:"a"`
	B       string `json:"b"`
	Nonce   string `json:"n"`
	Expires int64  `json:"exp"`
}

// Tokens issues and verifies matchup tokens. A token is
// base64url(claims) "." base64url(HMAC-SHA256(claims)).
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer. An empty secret is replaced with random
// bytes, so tokens only verify within this process.
func NewTokens(secret []byte, ttl time.Duration, now func() time.Time) *Tokens {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	if now == nil {
		now = time.Now
	}
	return &Tokens{secret: secret, ttl: ttl, now: now}
}

// Issue binds the unordered pair (a, b) to a fresh single-use token.
func (t *Tokens) Issue(a, b string) (string, time.Time, error) {
	exp := t.now().Add(t.ttl)
	payload, err := json.Marshal(tokenClaims{A: a, B: b, Nonce: uuid.NewString(), Expires: exp.Unix()})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode matchup token: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(t.sign(payload)), exp, nil
}

// Verify checks that token was issued for the pair {winner, loser} and has not
// expired. It returns the token nonce for single-use tracking.
func (t *Tokens) Verify(token, winner, loser string) (string, error) {
	enc := base64.RawURLEncoding
	p, s, ok := strings.Cut(token, ".")
	if !ok {
		return "", model.Validation(model.KindInvalidToken, "malformed token")
	}
	payload, err := enc.DecodeString(p)
	if err != nil {
		return "", model.Validation(model.KindInvalidToken, "malformed token payload")
	}
	sig, err := enc.DecodeString(s)
	if err != nil || !hmac.Equal(sig, t.sign(payload)) {
		return "", model.Validation(model.KindInvalidToken, "bad signature")
	}
	var c tokenClaims
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", model.Validation(model.KindInvalidToken, "malformed token claims")
	}
	if t.now().Unix() > c.Expires {
		return "", model.Validation(model.KindInvalidToken, "token expired")
	}
	if !(c.A == winner && c.B == loser) && !(c.A == loser && c.B == winner) {
		return "", model.Validation(model.KindInvalidToken, "token was issued for a different pair")
	}
	return c.Nonce, nil
}

func (t *Tokens) sign(payload []byte) []byte {
	m := hmac.New(sha256.New, t.secret)
	m.Write(payload)
	return m.Sum(nil)
}
