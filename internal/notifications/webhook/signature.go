package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "X-AlertStream-Signature"

// Signer computes HMAC-SHA256 signatures over "<unix>.<payload>".
type Signer struct {
	secret []byte
}

// NewSigner returns nil for an empty secret; a nil Signer signs nothing.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature header value for payload at now.
func (s *Signer) Sign(payload []byte, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, s.mac(ts, payload))
}

// Verify checks header against payload and rejects timestamps older than
// tolerance. A zero tolerance skips the age check.
func (s *Signer) Verify(payload []byte, header string, now time.Time, tolerance time.Duration) bool {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return false
	}
	ts, err := strconv.ParseInt(parts.timestamp, 10, 64)
	if err != nil {
		return false
	}
	if tolerance > 0 && now.Sub(time.Unix(ts, 0)) > tolerance {
		return false
	}
	return hmac.Equal([]byte(parts.v1), []byte(s.mac(ts, payload)))
}

func (s *Signer) mac(ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type signatureParts struct {
	timestamp string
	v1        string
}

// parseSignatureHeader breaks "t=<unix>,v1=<hex>" into its parts.
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			parts.timestamp = strings.TrimSpace(value)
		case "v1":
			parts.v1 = strings.TrimSpace(value)
		}
	}
	return parts
}
