package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyDigestIsDeterministic(t *testing.T) {
	a := APIKeyDigest("secret-key")
	b := APIKeyDigest("secret-key")
	c := APIKeyDigest("other-key")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestParseJWTKey(t *testing.T) {
	key, err := parseJWTKey("HS256", "shared-secret")
	assert.NoError(t, err)
	assert.Equal(t, []byte("shared-secret"), key)

	_, err = parseJWTKey("RS256", "not a pem block")
	assert.Error(t, err)

	_, err = parseJWTKey("none", "x")
	assert.Error(t, err)
}
