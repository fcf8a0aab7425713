package auth

import (
	jwt "github.com/golang-jwt/jwt/v5"
)

// Sign computes the HMAC-SHA256 signature of content. The result is
// deterministic for a given content and secret.
func Sign(content, secret []byte) ([]byte, error) {
	return jwt.SigningMethodHS256.Sign(string(content), secret)
}

// VerifySignature reports whether sig is the HMAC-SHA256 signature of
// content. The comparison is constant time (hmac.Equal).
func VerifySignature(content, sig, secret []byte) bool {
	return jwt.SigningMethodHS256.Verify(string(content), sig, secret) == nil
}
