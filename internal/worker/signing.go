package worker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
)

// Header names of the signing scheme.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// DefaultMaxSkew is the accepted clock drift between signer and verifier.
const DefaultMaxSkew = 300 * time.Second

// Sign computes the hex HMAC-SHA256 of timestamp||body under key.
// The timestamp is the unix-seconds string sent in X-Timestamp.
func Sign(key []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignNow signs body with the current time, returning the timestamp and
// signature header values.
func SignNow(key []byte, body []byte) (timestamp, signature string) {
	timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	return timestamp, Sign(key, timestamp, body)
}

// Verify checks a signed payload: the timestamp must parse, lie within
// maxSkew of now, and the signature must match in constant time.
// A maxSkew of 0 applies DefaultMaxSkew.
func Verify(key []byte, timestamp, signature string, body []byte, maxSkew time.Duration) error {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return coreerrors.ErrProtocol("malformed timestamp")
	}

	drift := time.Since(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > maxSkew {
		return coreerrors.ErrProtocol("timestamp outside accepted window")
	}

	want := Sign(key, timestamp, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return coreerrors.ErrProtocol("signature mismatch")
	}
	return nil
}
