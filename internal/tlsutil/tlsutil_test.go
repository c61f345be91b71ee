package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_AEADOnly(t *testing.T) {
	cfg := ClientConfig("s3.amazonaws.com")
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, "s3.amazonaws.com", cfg.ServerName)
	require.NotEmpty(t, cfg.CipherSuites)
	for _, cs := range cfg.CipherSuites {
		assert.Contains(t, aeadSuites, cs)
	}
}

func TestClientConfig_IndependentCopies(t *testing.T) {
	a := ClientConfig("")
	a.CipherSuites[0] = 0
	b := ClientConfig("")
	assert.NotEqual(t, uint16(0), b.CipherSuites[0])
}

func TestRedisConfig_ServerName(t *testing.T) {
	assert.Equal(t, "cache.internal", RedisConfig("cache.internal:6380").ServerName)
	assert.Equal(t, "cache.internal", RedisConfig("cache.internal").ServerName)
}

func TestAWSHTTPClient(t *testing.T) {
	client := AWSHTTPClient(20 * time.Second)
	assert.Equal(t, 20*time.Second, client.Timeout)
	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
}
