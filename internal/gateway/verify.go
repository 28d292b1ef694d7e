package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
)

// SignHMACSHA256 returns the hex HMAC-SHA256 of body under secret.
func SignHMACSHA256(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 compares signatureHex against the HMAC of body in constant time.
func VerifyHMACSHA256(body []byte, secret, signatureHex string) bool {
	if secret == "" || signatureHex == "" {
		return false
	}
	return constantTimeHexEqual(SignHMACSHA256(body, secret), signatureHex)
}

// BasicDigest is the hex SHA256 of "username:password".
func BasicDigest(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

// VerifyBasicDigest checks an Authorization header carrying SHA256(username:password).
// An optional "SHA256 " scheme prefix is accepted.
func VerifyBasicDigest(authorization, username, password string) bool {
	if username == "" || authorization == "" {
		return false
	}
	got := strings.TrimSpace(authorization)
	if i := strings.IndexByte(got, ' '); i > 0 && strings.EqualFold(got[:i], "sha256") {
		got = strings.TrimSpace(got[i+1:])
	}
	return constantTimeHexEqual(BasicDigest(username, password), got)
}

func constantTimeHexEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(want)), []byte(strings.ToLower(got))) == 1
}

// ErrSignature is the rejection returned by Verify implementations.
func ErrSignature(gw Name, reason string) error {
	return apperr.New(apperr.KindSignatureInvalid, apperr.CodeSignatureInvalid, string(gw)+" webhook: "+reason)
}
