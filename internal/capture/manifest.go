package capture

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// mpdDocument is the subset of a DASH MPD this package cares about: one
// Representation per available track, grounded on util.go's MPD/Representation
// types. encoding/xml is a justified stdlib use (DESIGN.md): no corpus
// library targets DASH manifests — github.com/grafov/m3u8 elsewhere in the
// pack parses HLS playlists, a different format entirely.
type mpdDocument struct {
	Representations []mpdRepresentation `xml:"Period>AdaptationSet>Representation"`
}

type mpdRepresentation struct {
	ID          string          `xml:"id,attr"`
	BaseURL     string          `xml:"BaseURL"`
	SegmentList []mpdSegmentURL `xml:"SegmentList>SegmentURL"`
}

type mpdSegmentURL struct {
	Media string `xml:"media,attr"`
}

// ParseManifest extracts {itag -> URL template} from a DASH manifest
// document, along with the highest sequence number referenced by any
// Representation's segment list (used for the 5-day-seekable-window
// calculation). Grounded on util.go:GetUrlsFromManifest.
func ParseManifest(manifest []byte) (urls map[int]string, lastSq int, err error) {
	var mpd mpdDocument
	if err := xml.Unmarshal(manifest, &mpd); err != nil {
		return nil, -1, err
	}

	urls = make(map[int]string)
	lastSq = -1

	for _, r := range mpd.Representations {
		itag, convErr := strconv.Atoi(r.ID)
		if convErr != nil || itag <= 0 || r.BaseURL == "" {
			continue
		}

		if n := len(r.SegmentList); n > 0 {
			if sq := lastSeqFromMedia(r.SegmentList[n-1].Media); sq > lastSq {
				lastSq = sq
			}
		}

		urls[itag] = strings.ReplaceAll(r.BaseURL, "%", "%%") + "sq/%d"
	}

	return urls, lastSq, nil
}

func lastSeqFromMedia(media string) int {
	parts := strings.Split(media, "/")
	for i, p := range parts {
		if p == "sq" && i+1 < len(parts) {
			if sq, err := strconv.Atoi(parts[i+1]); err == nil {
				return sq
			}
			return -1
		}
	}
	return -1
}

// IsFragmented reports whether a URL is sequence-addressable, per §4.1: only
// URLs carrying the "noclen" marker (no fixed content length) support
// fragment retrieval.
func IsFragmented(rawURL string) bool {
	return strings.Contains(strings.ToLower(rawURL), "noclen")
}

// SynthesizeAdaptiveFormatURLs builds {itag -> URL template} straight from
// adaptiveFormats entries, used when no DASH manifest mapping is available
// (§4.3). ManifestResolver.Resolve only calls this when the DASH-derived map
// came back with zero entries: get_download_urls in the original
// implementation returns the DASH map wholesale whenever it is non-empty,
// all-or-nothing, and never merges in adaptiveFormats itags the manifest
// happens to be missing (see manifest_test.go).
func SynthesizeAdaptiveFormatURLs(formats []AdaptiveFormat) map[int]string {
	urls := make(map[int]string, len(formats))
	for _, f := range formats {
		if f.URL == "" {
			continue
		}
		if _, ok := urls[f.Itag]; ok {
			continue
		}
		urls[f.Itag] = strings.ReplaceAll(f.URL, "%", "%%") + "&sq=%d"
	}
	return urls
}

// ManifestResolver implements §4.3: given streaming data, produce
// {itag -> fragmented URL template}, preferring a DASH manifest over
// synthesized adaptiveFormats URLs, and rejecting anything non-fragmented.
type ManifestResolver struct {
	fetch func(url string) ([]byte, error)
}

func NewManifestResolver(fetch func(url string) ([]byte, error)) *ManifestResolver {
	return &ManifestResolver{fetch: fetch}
}

// Resolve produces {itag -> fragmented URL template} for one streaming data
// payload: the DASH manifest, if it parses to any entries at all, wins
// outright; adaptiveFormats is only consulted when the manifest yields
// nothing. Mirrors original_source/ytarchive.py:get_download_urls.
func (m *ManifestResolver) Resolve(sd StreamingData) (urls map[int]string, lastSq int, err error) {
	urls = make(map[int]string)
	lastSq = -1

	if sd.DashManifestURL != "" {
		manifest, ferr := m.fetch(sd.DashManifestURL)
		if ferr == nil && len(manifest) > 0 {
			dashURLs, dashLastSq, perr := ParseManifest(manifest)
			if perr == nil {
				urls = dashURLs
				lastSq = dashLastSq
			}
		}
	}

	if len(urls) == 0 {
		urls = SynthesizeAdaptiveFormatURLs(sd.AdaptiveFormats)
	}

	for itag, u := range urls {
		if !IsFragmented(u) {
			delete(urls, itag)
		}
	}

	return urls, lastSq, nil
}
