package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindValid(t *testing.T) {
	for _, kind := range AllKinds() {
		assert.True(t, kind.Valid(), "kind %s should be valid", kind)
	}
	assert.False(t, Kind("shadowban").Valid())
	assert.False(t, Kind("").Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestStoreKey(t *testing.T) {
	a := &Action{SubjectID: "42", ScopeID: "7", Kind: KindMute}
	assert.Equal(t, "7:42:mute", a.Key())
	assert.Equal(t, a.Key(), StoreKey("42", "7", KindMute))
}

func TestValidateDuration(t *testing.T) {
	short := 10 * time.Minute
	negative := -time.Minute
	tooLongTimeout := MaxTimeoutDuration + time.Hour
	tooLongBan := MaxTemporaryBanDuration + time.Hour

	tests := []struct {
		name     string
		kind     Kind
		duration *time.Duration
		wantErr  bool
	}{
		{"warning without duration", KindWarning, nil, false},
		{"warning with duration", KindWarning, &short, true},
		{"permanent ban without duration", KindPermanentBan, nil, false},
		{"permanent ban with duration", KindPermanentBan, &short, true},
		{"mute without duration", KindMute, nil, false},
		{"mute with duration", KindMute, &short, false},
		{"mute with negative duration", KindMute, &negative, true},
		{"timeout with duration", KindTimeout, &short, false},
		{"timeout without duration", KindTimeout, nil, true},
		{"timeout over maximum", KindTimeout, &tooLongTimeout, true},
		{"temporary ban with duration", KindTemporaryBan, &short, false},
		{"temporary ban without duration", KindTemporaryBan, nil, true},
		{"temporary ban over maximum", KindTemporaryBan, &tooLongBan, true},
		{"unknown kind", Kind("shadowban"), &short, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDuration(tt.kind, tt.duration)
			if tt.wantErr {
				require.Error(t, err)
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateReason(t *testing.T) {
	assert.NoError(t, ValidateReason(""))
	assert.NoError(t, ValidateReason("repeated spam in #general"))

	long := make([]byte, MaxReasonLen+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateReason(string(long)))

	assert.Error(t, ValidateReason("nul\x00byte"))
}
