// Package hmacsig verifies inbound webhook signatures.
package hmacsig

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Verify computes hex(HMAC-SHA256(secret, body)) and compares it to
// suppliedSig using a constant-time comparison over equal-length strings.
// A blank suppliedSig is treated by the caller as MissingSignature, not
// handled here — Verify always returns false for it.
//
// The secret is used as a UTF-8 text key, not decoded from hex: sources are
// provisioned with 32 random bytes hex-encoded, and the hex string itself
// is the key.
func Verify(secretHex string, body []byte, suppliedSig string) bool {
	if suppliedSig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secretHex))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if len(expected) != len(suppliedSig) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(suppliedSig)) == 1
}
