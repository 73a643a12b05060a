package capture

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// NetworkFamily is an explicit transport-level dial family, replacing the
// teacher's global networkType var + DialContextOverride free function per
// REDESIGN FLAGS ("expose the address family as a transport option ... do
// not mutate any global resolver").
type NetworkFamily string

const (
	NetworkBoth NetworkFamily = "tcp"
	NetworkIPv4 NetworkFamily = "tcp4"
	NetworkIPv6 NetworkFamily = "tcp6"
)

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	Family NetworkFamily
	Proxy  *url.URL
	Jar    http.CookieJar
}

// NewHTTPClient builds the single shared http.Client used by InfoProbe and
// FragmentFetcher, grounded on util.go:InitializeHttpClient.
func NewHTTPClient(opts ClientOptions) *http.Client {
	family := opts.Family
	if family == "" {
		family = NetworkBoth
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, string(family), addr)
	}
	tr.ResponseHeaderTimeout = 10 * time.Second

	if opts.Proxy != nil {
		tr.Proxy = http.ProxyURL(opts.Proxy)
	}

	jar := opts.Jar
	if jar == nil {
		jar, _ = cookiejar.New(nil)
	}

	return &http.Client{
		Transport: tr,
		Jar:       jar,
	}
}

// GenerateSAPISIDHash computes the SAPISIDHASH authorization header value
// used on the Android INNERTUBE player-response POST when a logged-in
// cookie jar is present. Ported from util.go:GenerateSAPISIDHash (algorithm
// traces back to yt-dlp, which credits a Stack Overflow answer).
func GenerateSAPISIDHash(client *http.Client, origin *url.URL) string {
	if origin == nil || client.Jar == nil {
		return ""
	}

	cookies := client.Jar.Cookies(origin)
	if len(cookies) == 0 {
		return ""
	}

	var sapisid, papisid *http.Cookie
	for _, c := range cookies {
		switch c.Name {
		case "SAPISID":
			sapisid = c
		case "__Secure-3PAPISID":
			papisid = c
		}
	}

	if sapisid == nil {
		if papisid == nil {
			return ""
		}
		sapisid = &http.Cookie{
			Domain:   papisid.Domain,
			Path:     papisid.Path,
			Secure:   papisid.Secure,
			Expires:  papisid.Expires,
			Name:     "SAPISID",
			Value:    papisid.Value,
			HttpOnly: papisid.HttpOnly,
		}
		client.Jar.SetCookies(origin, append(cookies, sapisid))
	}

	now := time.Now().Unix()
	sum := sha1.Sum([]byte(fmt.Sprintf("%d %s https://www.youtube.com", now, sapisid.Value)))
	return fmt.Sprintf("SAPISIDHASH %d_%s", now, hex.EncodeToString(sum[:]))
}
