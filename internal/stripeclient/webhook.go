package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSignature means webhook signature verification failed; the caller must
// answer 400 and must not project anything.
var ErrSignature = errors.New("webhook signature verification failed")

// DefaultTolerance bounds the age of a webhook delivery. Deliveries older
// than this fail verification even with a valid signature.
const DefaultTolerance = 5 * time.Minute

// ConstructEvent verifies the v1 signature scheme (HMAC-SHA256 over
// "<timestamp>.<payload>") and parses the event envelope.
func ConstructEvent(payload []byte, sigHeader, secret string) (Event, error) {
	return ConstructEventWithTolerance(payload, sigHeader, secret, DefaultTolerance, time.Now())
}

func ConstructEventWithTolerance(payload []byte, sigHeader, secret string, tolerance time.Duration, now time.Time) (Event, error) {
	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Event{}, err
	}

	if tolerance > 0 {
		age := now.Unix() - timestamp
		if age < 0 {
			age = -age
		}
		if time.Duration(age)*time.Second > tolerance {
			return Event{}, fmt.Errorf("%w: timestamp outside tolerance", ErrSignature)
		}
	}

	expected := ComputeSignature(payload, timestamp, secret)
	valid := false
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			valid = true
			break
		}
	}
	if !valid {
		return Event{}, fmt.Errorf("%w: no matching v1 signature", ErrSignature)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("parse event payload: %w", err)
	}
	return event, nil
}

// ComputeSignature produces the expected v1 signature bytes for a payload.
// Exported so tests and tooling can sign synthetic deliveries.
func ComputeSignature(payload []byte, timestamp int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeader renders a v1 signature header for a payload; the inverse
// of parseSignatureHeader.
func SignatureHeader(payload []byte, timestamp int64, secret string) string {
	sig := ComputeSignature(payload, timestamp, secret)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(sig))
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", ErrSignature)
	}
	var (
		timestamp  int64
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp", ErrSignature)
			}
			timestamp = parsed
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: header missing timestamp or v1 signature", ErrSignature)
	}
	return timestamp, signatures, nil
}
