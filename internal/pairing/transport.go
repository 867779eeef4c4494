package pairing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/appium/go-ios-remotexpc/internal/rppairing"
)

// eventBody wraps a TLV payload (and any sibling fields) under a single
// named key, the shape every RPPairing event kind (verifyManualPairing,
// setupManualPairing, pairVerifyFailed, …) uses.
func eventBody(kind string, fields map[string]any) map[string]any {
	return map[string]any{kind: fields}
}

// sendTLVEvent base64-encodes tlv into fields["data"] and sends it as an
// event of the given kind.
func sendTLVEvent(conn *rppairing.Conn, kind string, tlv []byte, extra map[string]any) error {
	fields := map[string]any{"data": base64.StdEncoding.EncodeToString(tlv)}
	for k, v := range extra {
		fields[k] = v
	}
	env := conn.NewEventEnvelope(eventBody(kind, fields))
	return conn.Send(env)
}

// receiveTLV reads one frame and extracts its base64-encoded TLV payload.
// The reply envelope's outer nesting varies by event kind and isn't
// otherwise interpreted here, so this walks the decoded JSON looking for the
// first "data" string found anywhere in the body.
func receiveTLV(conn *rppairing.Conn) ([]byte, error) {
	raw, err := conn.ReceiveRaw()
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("pairing: unmarshal reply: %w", err)
	}
	b64, ok := findString(generic, "data")
	if !ok {
		return nil, newError(CodeM5Error, "reply did not contain a data field")
	}
	tlv, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("pairing: decode base64 tlv: %w", err)
	}
	return tlv, nil
}

// findString performs a depth-first search for the first string value
// stored under key in a generically-decoded JSON tree.
func findString(v any, key string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[key].(string); ok {
			return s, true
		}
		for _, child := range t {
			if s, ok := findString(child, key); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range t {
			if s, ok := findString(child, key); ok {
				return s, true
			}
		}
	}
	return "", false
}
