package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient 出站请求使用的 HTTP 客户端，timeout 为 0 表示不限制
func NewHTTPClient(timeout time.Duration) *http.Client {
	return NewHTTPClientWithTransport(timeout, nil)
}

// NewHTTPClientWithTransport wrap 非空时用于包装底层 Transport，例如请求调试
func NewHTTPClientWithTransport(timeout time.Duration, wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	var rt http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if wrap != nil {
		rt = wrap(rt)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}
