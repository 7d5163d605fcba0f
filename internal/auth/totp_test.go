package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOperatorSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func TestNewOperatorCode_RejectsBadSecret(t *testing.T) {
	for _, secret := range []string{"", "   ", "not base32 !!"} {
		oc, err := NewOperatorCode(secret, 1)
		assert.Error(t, err, "secret %q", secret)
		assert.Nil(t, oc)
	}
}

func TestOperatorCode_Candidates_IncludeCurrentCode(t *testing.T) {
	oc, err := NewOperatorCode(testOperatorSecret, 1)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	current, err := totp.GenerateCode(testOperatorSecret, now)
	require.NoError(t, err)
	previous, err := totp.GenerateCode(testOperatorSecret, now.Add(-30*time.Second))
	require.NoError(t, err)

	candidates := oc.Candidates(now)

	assert.Len(t, candidates, 3)
	assert.Contains(t, candidates, current)
	assert.Contains(t, candidates, previous)
}

func TestOperatorCode_Candidates_ExpireOutsideSkew(t *testing.T) {
	oc, err := NewOperatorCode(testOperatorSecret, 0)
	require.NoError(t, err)

	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCode(testOperatorSecret, issuedAt)
	require.NoError(t, err)

	assert.Equal(t, []string{code}, oc.Candidates(issuedAt))
	assert.NotContains(t, oc.Candidates(issuedAt.Add(5*time.Minute)), code)
}

func TestOperatorCode_NormalizesSecret(t *testing.T) {
	oc, err := NewOperatorCode("  jbswy3dpehpk3pxp  ", 0)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want, err := totp.GenerateCode("JBSWY3DPEHPK3PXP", now)
	require.NoError(t, err)

	assert.Equal(t, []string{want}, oc.Candidates(now))
}
