// Package verification routes punch attempts to the correct verification
// method and produces a pass/fail verdict with evidence.
package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"attend-sync/internal/models"
)

// Evidence is the sealed union of verification evidence. Each variant is
// tagged by its method name; the dispatcher switch over variants is
// exhaustive, so adding a punch method is a compile error everywhere it
// must be handled.
type Evidence interface {
	Method() string
}

// GeoEvidence carries a GPS fix.
type GeoEvidence struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_meters"`
	SSID           string  `json:"ssid,omitempty"`
}

func (GeoEvidence) Method() string { return models.MethodGeo }

// BiometricEvidence carries the result of the external face-matching
// pipeline. The engine consumes the score; it never performs imaging.
type BiometricEvidence struct {
	ConfidenceScore float64   `json:"confidence_score"`
	Liveness        bool      `json:"liveness"`
	CapturedAt      time.Time `json:"captured_at"`
}

func (BiometricEvidence) Method() string { return models.MethodBiometric }

// PinEvidence carries a kiosk PIN entry. The raw PIN is compared against
// the enrolled bcrypt hash and never persisted.
type PinEvidence struct {
	Pin string `json:"-"`
}

func (PinEvidence) Method() string { return models.MethodPin }

// TokenEvidence carries a scanned QR/NFC token.
type TokenEvidence struct {
	TokenID    string    `json:"token_id"`
	SiteID     uint      `json:"site_id"`
	Generation int       `json:"generation"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (TokenEvidence) Method() string { return models.MethodToken }

// envelope is the persisted wire form of an Evidence value.
type envelope struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEvidence serializes evidence into its tagged persisted form. PIN
// evidence serializes to an empty payload so the raw PIN never reaches
// storage.
func MarshalEvidence(ev Evidence) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Method: ev.Method(), Payload: payload})
}

// UnmarshalEvidence deserializes a tagged evidence payload.
func UnmarshalEvidence(data []byte) (Evidence, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Method {
	case models.MethodGeo:
		var ev GeoEvidence
		err := json.Unmarshal(env.Payload, &ev)
		return ev, err
	case models.MethodBiometric:
		var ev BiometricEvidence
		err := json.Unmarshal(env.Payload, &ev)
		return ev, err
	case models.MethodPin:
		return PinEvidence{}, nil
	case models.MethodToken:
		var ev TokenEvidence
		err := json.Unmarshal(env.Payload, &ev)
		return ev, err
	default:
		return nil, fmt.Errorf("unknown evidence method %q", env.Method)
	}
}

// ParseRequestEvidence deserializes evidence arriving on the wire. Unlike
// UnmarshalEvidence it reads the PIN out of the payload so it can be
// compared in memory; the PIN still never survives re-serialization.
func ParseRequestEvidence(data []byte) (Evidence, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Method != models.MethodPin {
		return UnmarshalEvidence(data)
	}
	var payload struct {
		Pin string `json:"pin"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, err
	}
	return PinEvidence{Pin: payload.Pin}, nil
}

// DigestEvidence returns the hex SHA-256 of the persisted evidence form,
// recorded in the audit trail instead of the evidence itself.
func DigestEvidence(ev Evidence) string {
	raw, err := MarshalEvidence(ev)
	if err != nil {
		raw = []byte(ev.Method())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
