package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// ClientConfig 返回加固的客户端 TLS 配置。serverName 为空时由连接地址推断。
func ClientConfig(serverName string) *tls.Config {
	suites := make([]uint16, len(aeadSuites))
	copy(suites, aeadSuites)
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: suites,
		ServerName:   serverName,
	}
}

// RedisConfig 为 Redis 连接返回 TLS 配置，addr 形如 host:port
func RedisConfig(addr string) *tls.Config {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return ClientConfig(host)
}

// AWSHTTPClient 返回给 AWS SDK 使用的 HTTP 客户端。
// timeout 只约束单次请求，异步推理的等待不经过这个客户端。
func AWSHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: ClientConfig(""),
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
