package verification

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinNeverSerialized(t *testing.T) {
	data, err := MarshalEvidence(PinEvidence{Pin: "123456"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "123456")
	assert.NotContains(t, string(data), "pin\":")

	ev, err := UnmarshalEvidence(data)
	require.NoError(t, err)
	pin, ok := ev.(PinEvidence)
	require.True(t, ok)
	assert.Empty(t, pin.Pin)
}

func TestParseRequestEvidenceReadsPin(t *testing.T) {
	raw := []byte(`{"method":"pin","payload":{"pin":"1234"}}`)
	ev, err := ParseRequestEvidence(raw)
	require.NoError(t, err)
	pin, ok := ev.(PinEvidence)
	require.True(t, ok)
	assert.Equal(t, "1234", pin.Pin)

	// Re-serializing request evidence must still drop the PIN.
	persisted, err := MarshalEvidence(pin)
	require.NoError(t, err)
	assert.NotContains(t, string(persisted), "1234")
}

func TestEvidenceRoundTripPreservesMethod(t *testing.T) {
	token := TokenEvidence{
		TokenID:    "tok-1",
		SiteID:     7,
		Generation: 3,
		ExpiresAt:  time.Now().UTC().Truncate(time.Second),
	}
	data, err := MarshalEvidence(token)
	require.NoError(t, err)

	ev, err := UnmarshalEvidence(data)
	require.NoError(t, err)
	back, ok := ev.(TokenEvidence)
	require.True(t, ok)
	assert.Equal(t, token, back)
}

func TestUnmarshalUnknownMethod(t *testing.T) {
	_, err := UnmarshalEvidence([]byte(`{"method":"palm","payload":{}}`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "palm"))
}

func TestDigestIsStable(t *testing.T) {
	geo := GeoEvidence{Lat: 1.5, Lng: 2.5, AccuracyMeters: 12}
	first := DigestEvidence(geo)
	assert.Equal(t, first, DigestEvidence(geo))
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, DigestEvidence(GeoEvidence{Lat: 1.5, Lng: 2.6, AccuracyMeters: 12}))
}
