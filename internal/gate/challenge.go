package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// challengePayload is the canonical serialization the HMAC challenge is
// computed over. A map is used deliberately: encoding/json sorts map keys, so
// the encoding is field-order independent and identical at challenge time and
// approval time. The timestamp is a unix integer to keep formatting out of
// the equation.
func challengePayload(id string, level Level, description string, ts time.Time) []byte {
	payload, err := json.Marshal(map[string]any{
		"desc":  description,
		"id":    id,
		"level": level.String(),
		"ts":    ts.Unix(),
	})
	if err != nil {
		// Marshalling a map of strings and ints cannot fail.
		panic(err)
	}
	return payload
}

// computeChallenge returns the hex HMAC-SHA256 of the canonical payload.
func computeChallenge(key []byte, id string, level Level, description string, ts time.Time) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(challengePayload(id, level, description, ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// signaturesEqual compares a presented signature against the expected
// challenge in constant time.
func signaturesEqual(presented, expected string) bool {
	return hmac.Equal([]byte(presented), []byte(expected))
}
