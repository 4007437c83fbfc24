package gateway

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

// ErrInvalidSignature is returned for any signature header that does not
// verify against the raw request body. Callers must reject the request
// without parsing the payload.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignatureTolerance bounds how stale a signed timestamp may be.
const SignatureTolerance = 5 * time.Minute

// Sign computes the signature header value for a payload: HMAC-SHA256 over
// "<unix ts>.<raw body>", formatted as "t=<ts>,v1=<hex>". The same scheme is
// used for inbound verification and outbound tenant webhooks.
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks a signature header against the exact raw bytes of
// the request body. It must run before the body is parsed.
func VerifySignature(payload []byte, header, secret string) error {
	return verifySignatureAt(payload, header, secret, time.Now())
}

func verifySignatureAt(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			sig = value
		}
	}
	if ts == 0 || sig == "" {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	if drift := now.Unix() - ts; drift > int64(SignatureTolerance.Seconds()) || -drift > int64(SignatureTolerance.Seconds()) {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Event is the provider's webhook envelope. Account identifies the connected
// merchant account an event belongs to; it is part of the envelope, never
// the payload, and is the only field trusted for tenant attribution.
type Event struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Account  string          `json:"account,omitempty"`
	Livemode bool            `json:"livemode"`
	Data     EventData       `json:"data"`
	Raw      json.RawMessage `json:"-"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// ParseEvent decodes a verified webhook body into the envelope. Callers must
// have verified the signature first.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if event.Type == "" {
		return nil, errors.New("parse event: missing type")
	}
	event.Raw = body
	return &event, nil
}
