package capture

import "testing"

// sampleMPD's BaseURL carries noclen in its query, as a real DASH
// Representation's BaseURL does (it is the same gvideo URL adaptiveFormats
// exposes, just split out per-itag): see spec.md's invariant that a DASH
// template, once substituted with a seq, still has noclen in its query.
const sampleMPD = `<?xml version="1.0"?>
<MPD>
  <Period>
    <AdaptationSet>
      <Representation id="140">
        <BaseURL>https://example.googlevideo.com/videoplayback?id=x&amp;itag=140&amp;noclen=1&amp;</BaseURL>
        <SegmentList>
          <SegmentURL media="https://example.googlevideo.com/sq/50"/>
        </SegmentList>
      </Representation>
      <Representation id="137">
        <BaseURL>https://example.googlevideo.com/videoplayback?id=x&amp;itag=137&amp;noclen=1&amp;</BaseURL>
        <SegmentList>
          <SegmentURL media="https://example.googlevideo.com/sq/48"/>
        </SegmentList>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseManifest_ExtractsItagsAndLastSeq(t *testing.T) {
	urls, lastSq, err := ParseManifest([]byte(sampleMPD))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastSq != 50 {
		t.Fatalf("lastSq = %d, want 50", lastSq)
	}
	if _, ok := urls[140]; !ok {
		t.Fatalf("expected itag 140 in parsed urls: %v", urls)
	}
	if _, ok := urls[137]; !ok {
		t.Fatalf("expected itag 137 in parsed urls: %v", urls)
	}
}

func TestIsFragmented(t *testing.T) {
	if !IsFragmented("https://x.googlevideo.com/videoplayback?noclen=1&itag=140") {
		t.Fatalf("expected noclen URL to be fragmented")
	}
	if IsFragmented("https://x.googlevideo.com/videoplayback?clen=1234&itag=140") {
		t.Fatalf("expected clen URL to not be fragmented")
	}
}

// TestResolve_NonEmptyDashIsReturnedWholesale pins the all-or-nothing rule
// original_source/ytarchive.py:get_download_urls implements: once the DASH
// manifest yields any entries at all, those entries are returned as-is and
// adaptiveFormats is never consulted, even for itags the manifest lacks.
func TestResolve_NonEmptyDashIsReturnedWholesale(t *testing.T) {
	fetchCalls := 0
	resolver := NewManifestResolver(func(u string) ([]byte, error) {
		fetchCalls++
		return []byte(sampleMPD), nil
	})

	sd := StreamingData{
		DashManifestURL: "https://example.com/manifest.mpd",
		AdaptiveFormats: []AdaptiveFormat{
			{Itag: 140, URL: "https://example.googlevideo.com/videoplayback?noclen=1&itag=140"},
			{Itag: 137, URL: "https://example.googlevideo.com/videoplayback?noclen=1&itag=137"},
			{Itag: 248, URL: "https://example.googlevideo.com/videoplayback?noclen=1&itag=248"},
		},
	}

	urls, _, err := resolver.Resolve(sd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetchCalls != 1 {
		t.Fatalf("expected exactly one manifest fetch, got %d", fetchCalls)
	}

	// 140 and 137 came from the DASH manifest; 248 only exists in
	// adaptiveFormats and must NOT be merged in once the DASH map is non-empty.
	if _, ok := urls[248]; ok {
		t.Fatalf("itag 248 should not be merged in from adaptiveFormats once DASH is non-empty: %v", urls)
	}
	if _, ok := urls[140]; !ok {
		t.Fatalf("expected itag 140 from the DASH manifest to survive: %v", urls)
	}
	if len(urls) != 2 {
		t.Fatalf("expected exactly the 2 DASH-derived itags, got %v", urls)
	}
}

func TestResolve_EmptyDashFallsThroughToAdaptiveFormats(t *testing.T) {
	resolver := NewManifestResolver(func(u string) ([]byte, error) {
		return []byte(`<MPD><Period><AdaptationSet></AdaptationSet></Period></MPD>`), nil
	})

	sd := StreamingData{
		DashManifestURL: "https://example.com/manifest.mpd",
		AdaptiveFormats: []AdaptiveFormat{
			{Itag: 140, URL: "https://example.googlevideo.com/videoplayback?noclen=1&itag=140"},
		},
	}

	urls, _, err := resolver.Resolve(sd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := urls[140]; !ok {
		t.Fatalf("expected fallback to adaptiveFormats when DASH map is empty: %v", urls)
	}
}

func TestResolve_RejectsNonFragmentedURLs(t *testing.T) {
	resolver := NewManifestResolver(func(u string) ([]byte, error) {
		return nil, nil
	})

	sd := StreamingData{
		AdaptiveFormats: []AdaptiveFormat{
			{Itag: 140, URL: "https://example.googlevideo.com/videoplayback?clen=1234&itag=140"},
		},
	}

	urls, _, err := resolver.Resolve(sd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 0 {
		t.Fatalf("expected non-fragmented URLs to be rejected: %v", urls)
	}
}
