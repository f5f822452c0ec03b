package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAction() *Action {
	issued := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	expires := issued.Add(10 * time.Minute)
	return &Action{
		SubjectID: "198412301234567890",
		ScopeID:   "102938475610293847",
		Kind:      KindMute,
		IssuedAt:  issued,
		ExpiresAt: &expires,
		IssuerID:  "564738291056473829",
		Reason:    "spamming invite links",
		Status:    StatusActive,
		Revision:  3,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	original := sampleAction()

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, original.SubjectID, decoded.SubjectID)
	assert.Equal(t, original.ScopeID, decoded.ScopeID)
	assert.Equal(t, original.Kind, decoded.Kind)
	assert.True(t, original.IssuedAt.Equal(decoded.IssuedAt))
	require.NotNil(t, decoded.ExpiresAt)
	assert.True(t, original.ExpiresAt.Equal(*decoded.ExpiresAt))
	assert.Equal(t, original.IssuerID, decoded.IssuerID)
	assert.Equal(t, original.Reason, decoded.Reason)
	assert.Equal(t, original.Status, decoded.Status)
	assert.Equal(t, original.Revision, decoded.Revision)
	assert.Nil(t, decoded.ResolvedAt)
}

func TestCodecDeterministic(t *testing.T) {
	original := sampleAction()

	first, err := Encode(original)
	require.NoError(t, err)
	second, err := Encode(original)
	require.NoError(t, err)

	// Identical inputs must produce identical bytes; the store's
	// revision conflict check depends on it.
	assert.Equal(t, first, second)

	// A decode/re-encode cycle must also be byte-stable.
	decoded, err := Decode(first)
	require.NoError(t, err)
	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, first, reencoded)
}

func TestCodecPermanentAction(t *testing.T) {
	a := sampleAction()
	a.Kind = KindPermanentBan
	a.ExpiresAt = nil

	data, err := Encode(a)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.ExpiresAt)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode([]byte("not a record"))
	assert.Error(t, err)

	_, err = Decode([]byte{})
	assert.Error(t, err)

	// Right magic, garbage payload.
	_, err = Decode(append([]byte("WDN1"), 0xde, 0xad, 0xbe, 0xef))
	assert.Error(t, err)
}
