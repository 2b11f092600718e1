package httpclient

import (
	"context"
	"net"
	"strings"

	utls "github.com/refraction-networking/utls"
	"github.com/rotisserie/eris"
)

// TLS fingerprints accepted by Config.TLSFingerprint.
const (
	FingerprintChrome  = "chrome"
	FingerprintFirefox = "firefox"
	FingerprintSafari  = "safari"
	FingerprintNone    = "none"
)

// ParseFingerprint maps a fingerprint name to its uTLS ClientHello. ok is
// false for FingerprintNone, which leaves the handshake to crypto/tls.
func ParseFingerprint(name string) (id utls.ClientHelloID, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FingerprintChrome:
		return utls.HelloChrome_Auto, true, nil
	case FingerprintFirefox:
		return utls.HelloFirefox_Auto, true, nil
	case FingerprintSafari:
		return utls.HelloSafari_Auto, true, nil
	case FingerprintNone:
		return utls.ClientHelloID{}, false, nil
	default:
		return utls.ClientHelloID{}, false, eris.Errorf("unknown tls fingerprint %q", name)
	}
}

// helloDialer performs the TLS handshake with a browser ClientHello. ALPN is
// pinned to http/1.1 because the transport cannot speak h2 over a uTLS conn.
type helloDialer struct {
	dialer   *net.Dialer
	hello    utls.ClientHelloID
	insecure bool
}

func (d *helloDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	raw, err := d.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	spec, err := utls.UTLSIdToSpec(d.hello)
	if err != nil {
		_ = raw.Close()
		return nil, eris.Wrap(err, "build client hello")
	}
	exts := spec.Extensions[:0]
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = []string{"http/1.1"}
		case *utls.ApplicationSettingsExtension, *utls.ApplicationSettingsExtensionNew:
			// ALPS only carries h2 settings.
			continue
		}
		exts = append(exts, ext)
	}
	spec.Extensions = exts

	// #nosec G402 -- the directory sites serve broken chains; verification is configurable.
	conn := utls.UClient(raw, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: d.insecure,
		MinVersion:         utls.VersionTLS12,
	}, utls.HelloCustom)
	if err := conn.ApplyPreset(&spec); err != nil {
		_ = raw.Close()
		return nil, eris.Wrap(err, "apply client hello")
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, eris.Wrapf(err, "tls handshake with %s", addr)
	}
	return conn, nil
}
