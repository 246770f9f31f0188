package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"net/url"

	"github.com/Devdeo/devv/internal/config"
)

func HasProxy() bool {
	return config.ProxyHost != "" && config.ProxyUserPrefix != "" && config.ProxyPassword != "" && config.ProxyCount > 0
}

// GetRandomProxyURL picks one numbered user from the proxy pool.
func GetRandomProxyURL() string {
	if !HasProxy() {
		return ""
	}
	nBig, err := rand.Int(rand.Reader, big.NewInt(int64(config.ProxyCount)))
	if err != nil {
		nBig = big.NewInt(1)
	}
	n := nBig.Int64() + 1
	return fmt.Sprintf("http://%s-%d:%s@%s:%s",
		config.ProxyUserPrefix, n, config.ProxyPassword,
		config.ProxyHost, config.ProxyPort)
}

// ProxyFromPool is an http.Transport Proxy func that rotates through the
// pool, or goes direct when none is configured.
func ProxyFromPool(*http.Request) (*url.URL, error) {
	raw := GetRandomProxyURL()
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}
