package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Polar signs webhooks with the Standard Webhooks scheme: the signed content
// is "<webhook-id>.<timestamp>.<body>", the key is the base64 payload of the
// whsec_-prefixed secret, and the signature header carries space-separated
// "v1,<base64>" entries.
const signatureTolerance = 5 * time.Minute

// VerifyStandardWebhookSignature checks the signature and the timestamp
// replay window. Comparison is constant time.
func VerifyStandardWebhookSignature(payload []byte, webhookID, timestamp, signatureHeader, secret string) bool {
	webhookID = strings.TrimSpace(webhookID)
	timestamp = strings.TrimSpace(timestamp)
	signatureHeader = strings.TrimSpace(signatureHeader)
	if webhookID == "" || timestamp == "" || signatureHeader == "" || secret == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, decodeWebhookSecret(secret))
	mac.Write([]byte(webhookID + "." + timestamp + "."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, part := range strings.Fields(signatureHeader) {
		version, sig, found := strings.Cut(part, ",")
		if !found || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

func decodeWebhookSecret(secret string) []byte {
	raw := strings.TrimPrefix(strings.TrimSpace(secret), "whsec_")
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Some deployments configure the raw secret without base64 encoding.
		return []byte(raw)
	}
	return key
}
