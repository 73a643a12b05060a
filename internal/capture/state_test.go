package capture

import (
	"context"
	"testing"
)

func newTestController(rawURL string) *StateController {
	di := NewDownloadInfo()
	di.URL = rawURL
	return &StateController{
		Info:     di,
		Manifest: NewManifestResolver(func(u string) ([]byte, error) { return nil, nil }),
	}
}

func TestParseInputURL_WatchURL(t *testing.T) {
	sc := newTestController("https://www.youtube.com/watch?v=abc123XYZ_")
	if err := sc.ParseInputURL(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Info.VideoID != "abc123XYZ_" {
		t.Fatalf("VideoID = %q, want abc123XYZ_", sc.Info.VideoID)
	}
}

func TestParseInputURL_WatchURLMissingVideoID(t *testing.T) {
	sc := newTestController("https://www.youtube.com/watch?foo=bar")
	if err := sc.ParseInputURL(); err == nil {
		t.Fatalf("expected an error for a watch URL with no v parameter")
	}
}

func TestParseInputURL_YoutuBe(t *testing.T) {
	sc := newTestController("https://youtu.be/abc123XYZ_")
	if err := sc.ParseInputURL(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Info.VideoID != "abc123XYZ_" {
		t.Fatalf("VideoID = %q, want abc123XYZ_", sc.Info.VideoID)
	}
}

func TestParseInputURL_LiveURL(t *testing.T) {
	sc := newTestController("https://www.youtube.com/live/abc123XYZ_")
	if err := sc.ParseInputURL(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Info.VideoID != "abc123XYZ_" {
		t.Fatalf("VideoID = %q, want abc123XYZ_", sc.Info.VideoID)
	}
}

func TestParseInputURL_ChannelURLRewritesToLive(t *testing.T) {
	sc := newTestController("https://www.youtube.com/channel/UCabc123")
	if err := sc.ParseInputURL(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sc.Info.ChannelURL() {
		t.Fatalf("expected ChannelURL to be set")
	}
	if sc.Info.URL != "https://www.youtube.com/channel/UCabc123/live" {
		t.Fatalf("URL = %q", sc.Info.URL)
	}
}

func TestParseInputURL_RejectsUnknownHost(t *testing.T) {
	sc := newTestController("https://example.com/watch?v=abc")
	if err := sc.ParseInputURL(); err == nil {
		t.Fatalf("expected an error for a non-youtube URL")
	}
}

func TestParseInputURL_DirectURLRejectsNonFragmented(t *testing.T) {
	sc := newTestController("https://r1---abc.googlevideo.com/videoplayback?id=x.1&itag=140&clen=1234&sq=0")
	if err := sc.ParseInputURL(); err == nil {
		t.Fatalf("expected an error for a direct URL lacking noclen")
	}
}

func TestParseInputURL_DirectURLTemplatizesSequence(t *testing.T) {
	sc := newTestController("https://r1---abc.googlevideo.com/videoplayback?id=x.1&itag=140&noclen=1&sq=0")
	if err := sc.ParseInputURL(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sc.Info.DirectURLMode() {
		t.Fatalf("expected direct URL mode to be enabled")
	}
	if sc.Info.Audio.URL() == "" {
		t.Fatalf("expected the audio track URL template to be set for the audio itag")
	}
}

func TestSelectQuality_ResolvesBestAndFixesItag(t *testing.T) {
	sc := newTestController("https://www.youtube.com/watch?v=abc")
	sc.SelectedQuality = "best"

	sd := StreamingData{
		AdaptiveFormats: []AdaptiveFormat{
			{Itag: AudioItag, URL: "https://x.googlevideo.com/videoplayback?noclen=1&itag=140"},
			{Itag: VideoLabelItags["480p"].H264, URL: "https://x.googlevideo.com/videoplayback?noclen=1&itag=135"},
		},
	}

	pr := &PlayerResponse{StreamingData: sd}
	if err := sc.SelectQuality(context.Background(), pr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Info.ChosenVideoItag != VideoLabelItags["480p"].H264 {
		t.Fatalf("ChosenVideoItag = %d, want %d", sc.Info.ChosenVideoItag, VideoLabelItags["480p"].H264)
	}

	// Once resolved, a second call with fewer formats present must not
	// change the chosen itag (§3 invariant: fixed once non-negative).
	sd2 := StreamingData{AdaptiveFormats: []AdaptiveFormat{
		{Itag: VideoLabelItags["480p"].H264, URL: "https://x.googlevideo.com/videoplayback?noclen=1&itag=135&refreshed=1"},
	}}
	if err := sc.SelectQuality(context.Background(), &PlayerResponse{StreamingData: sd2}); err != nil {
		t.Fatalf("unexpected error on rebind: %v", err)
	}
	if sc.Info.ChosenVideoItag != VideoLabelItags["480p"].H264 {
		t.Fatalf("ChosenVideoItag changed on rebind: %d", sc.Info.ChosenVideoItag)
	}
}
