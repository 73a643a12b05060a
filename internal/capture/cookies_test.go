package capture

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

const sampleNetscapeCookies = "# Netscape HTTP Cookie File\n" +
	".youtube.com\tTRUE\t/\tTRUE\t2147483647\tSAPISID\tabc123\n" +
	".youtube.com\tTRUE\t/\tFALSE\t2147483647\tPREF\txyz\n"

func TestLoadNetscapeCookies_ParsesTabDelimitedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")
	if err := os.WriteFile(path, []byte(sampleNetscapeCookies), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	jar, err := LoadNetscapeCookies(path)
	if err != nil {
		t.Fatalf("LoadNetscapeCookies: %v", err)
	}

	origin, _ := url.Parse("https://www.youtube.com")
	cookies := jar.Cookies(origin)

	var sawSAPISID, sawPREF bool
	for _, c := range cookies {
		switch c.Name {
		case "SAPISID":
			sawSAPISID = c.Value == "abc123" && c.Secure
		case "PREF":
			sawPREF = c.Value == "xyz" && !c.Secure
		}
	}
	if !sawSAPISID {
		t.Fatalf("expected a secure SAPISID cookie with value abc123, got %v", cookies)
	}
	if !sawPREF {
		t.Fatalf("expected a non-secure PREF cookie with value xyz, got %v", cookies)
	}
}

func TestLoadNetscapeCookies_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")
	content := sampleNetscapeCookies + "not\tenough\tfields\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := LoadNetscapeCookies(path); err != nil {
		t.Fatalf("LoadNetscapeCookies should tolerate malformed lines, got: %v", err)
	}
}
