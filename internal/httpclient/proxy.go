package httpclient

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Proxy describes an upstream proxy. Protocol defaults to http.
type Proxy struct {
	Protocol string
	Host     string
	Port     int
	Username string
	Password string
}

// BuildProxyURL renders p as proto://[user:password@|password@]host:port.
// A username without a password is ignored.
func BuildProxyURL(p Proxy) string {
	scheme := strings.ToLower(strings.TrimSpace(p.Protocol))
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	switch {
	case p.Username != "" && p.Password != "":
		u.User = url.UserPassword(p.Username, p.Password)
	case p.Password != "":
		u.User = url.User(p.Password)
	}
	return u.String()
}
