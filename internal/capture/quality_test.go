package capture

import (
	"reflect"
	"testing"
)

func TestParseQualitySelection_KeepsOnlyKnownLabelsAndSpecials(t *testing.T) {
	got := ParseQualitySelection(VideoQualities, "1080p/bogus/best/audio")
	want := []string{"1080p", "best", "audio"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseQualitySelection = %v, want %v", got, want)
	}
}

func TestParseQualitySelection_CaseAndWhitespaceInsensitive(t *testing.T) {
	got := ParseQualitySelection(VideoQualities, "  720P60 / BEST ")
	want := []string{"720p60", "best"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseQualitySelection = %v, want %v", got, want)
	}
}

func TestResolveQuality_BestPicksHighestAvailable(t *testing.T) {
	dlURLs := map[int]string{
		VideoLabelItags["480p"].H264: "tmpl",
		AudioItag:                    "tmpl",
	}
	available := AvailableLabels(dlURLs)

	got, ok := ResolveQuality([]string{"best"}, available, dlURLs, false, false)
	if !ok {
		t.Fatalf("expected a resolvable quality")
	}
	if got.VideoItag != VideoLabelItags["480p"].H264 {
		t.Fatalf("ResolveQuality picked itag %d, want the 480p h264 itag %d", got.VideoItag, VideoLabelItags["480p"].H264)
	}
}

func TestResolveQuality_PrefersVP9WhenRequested(t *testing.T) {
	itag := VideoLabelItags["720p"]
	dlURLs := map[int]string{itag.H264: "tmpl", itag.VP9: "tmpl"}

	got, ok := ResolveQuality([]string{"720p"}, []string{"720p"}, dlURLs, true, false)
	if !ok || !got.IsVP9 || got.VideoItag != itag.VP9 {
		t.Fatalf("expected vp9 itag %d, got %+v", itag.VP9, got)
	}
}

func TestResolveQuality_FallsBackWhenPreferredCodecMissing(t *testing.T) {
	itag := VideoLabelItags["720p"]
	dlURLs := map[int]string{itag.H264: "tmpl"} // no vp9 entry present

	got, ok := ResolveQuality([]string{"720p"}, []string{"720p"}, dlURLs, true, false)
	if !ok || got.IsVP9 || got.VideoItag != itag.H264 {
		t.Fatalf("expected fallback to h264 itag %d, got %+v", itag.H264, got)
	}
}

func TestResolveQuality_AudioOnly(t *testing.T) {
	got, ok := ResolveQuality([]string{"audio"}, []string{"audio_only"}, map[int]string{}, false, false)
	if !ok || !got.AudioOnly {
		t.Fatalf("expected audio-only resolution, got %+v ok=%v", got, ok)
	}
}

func TestResolveQuality_NoMatchReturnsFalse(t *testing.T) {
	_, ok := ResolveQuality([]string{"2160p60"}, []string{"audio_only"}, map[int]string{}, false, false)
	if ok {
		t.Fatalf("expected no resolvable quality when nothing is available")
	}
}
