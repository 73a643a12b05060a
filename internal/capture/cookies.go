package capture

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const netscapeCookieFieldCount = 7

// LoadNetscapeCookies parses a Netscape-format cookies.txt into a
// http.CookieJar, grounded on netscape_cookies.go verbatim algorithm.
// Assumes (as the teacher does) that the file holds cookies for one site.
func LoadNetscapeCookies(path string) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cookies []*http.Cookie
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "\t")
		if len(parts) != netscapeCookieFieldCount {
			continue
		}

		domain := strings.ToLower(parts[0])
		httpOnly := strings.HasPrefix(domain, "#httponly_")
		domain = strings.TrimPrefix(domain, "#httponly_")

		expireUnix, _ := strconv.ParseInt(parts[4], 10, 64)

		cookies = append(cookies, &http.Cookie{
			Domain:   domain,
			Path:     parts[2],
			Secure:   strings.EqualFold(parts[3], "true"),
			Expires:  time.Unix(expireUnix, 0),
			Name:     parts[5],
			Value:    parts[6],
			HttpOnly: httpOnly,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(cookies) > 0 {
		if origin, err := url.Parse(fmt.Sprintf("https://%s", cookies[0].Domain)); err == nil {
			jar.SetCookies(origin, cookies)
		}
	}

	return jar, nil
}
