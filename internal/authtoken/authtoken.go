/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package authtoken is the simplest possible stand-in for the external
// token-issuer collaborator: an HMAC-signed bearer token good enough to
// make POST /auth/login and the bearer-token middleware runnable end to
// end. The real issuer is explicitly out of scope; this package only
// needs to satisfy the httpapi.TokenVerifier interface.
package authtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Claims is the payload signed into every issued token.
type Claims struct {
	Subject   string    `json:"sub"`
	Roles     []string  `json:"roles,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Issuer issues and verifies HMAC-SHA256 bearer tokens.
type Issuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewIssuer constructs an Issuer with a shared secret and a default token
// lifetime.
func NewIssuer(secret string, expiry time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Issue signs a new bearer token for subject, valid for the issuer's
// configured expiry.
func (i *Issuer) Issue(subject string, roles []string) (string, error) {
	now := i.now().UTC()
	claims := Claims{
		Subject:   subject,
		Roles:     roles,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.expiry),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := i.sign(encoded)
	return encoded + "." + sig, nil
}

// Verify checks a token's signature and expiry, returning its Claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("malformed token")
	}
	want := i.sign(encoded)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return nil, fmt.Errorf("invalid token signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if i.now().UTC().After(claims.ExpiresAt) {
		return nil, fmt.Errorf("token expired")
	}
	return &claims, nil
}

func (i *Issuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
