package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	key, err := SignServiceToken(secret, "user-1", time.Minute)
	require.NoError(t, err)

	sub, err := VerifyServiceToken(secret, key)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestServiceTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	key, err := SignServiceToken([]byte("a"), "user-1", time.Minute)
	require.NoError(t, err)

	_, err = VerifyServiceToken([]byte("b"), key)
	assert.Error(t, err)

	expired, err := SignServiceToken([]byte("a"), "user-1", -time.Minute)
	require.NoError(t, err)
	_, err = VerifyServiceToken([]byte("a"), expired)
	assert.Error(t, err)

	_, err = SignServiceToken(nil, "user-1", time.Minute)
	assert.Error(t, err)
}
