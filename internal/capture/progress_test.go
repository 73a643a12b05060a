package capture

import "testing"

func TestFormatSize_Units(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{500, "500B"},
		{2048, "2.00KiB"},
		{5 * 1024 * 1024, "5.00MiB"},
		{3 * 1024 * 1024 * 1024, "3.00GiB"},
	}

	for _, c := range cases {
		if got := FormatSize(c.bytes); got != c.want {
			t.Errorf("FormatSize(%d) = %q, want %q", c.bytes, got, c.want)
		}
	}
}

func TestReporter_ObserveAggregatesPerTrack(t *testing.T) {
	var lastLine string
	r := NewReporter(func(line string) { lastLine = line })

	r.Observe(ProgressEvent{Kind: TrackAudio, Bytes: 1000})
	r.Observe(ProgressEvent{Kind: TrackAudio, Bytes: 1000})
	r.Observe(ProgressEvent{Kind: TrackVideo, Bytes: 5000})

	audio, video := r.FragmentCounts()
	if audio != 2 {
		t.Fatalf("audio fragment count = %d, want 2", audio)
	}
	if video != 1 {
		t.Fatalf("video fragment count = %d, want 1", video)
	}
	if lastLine == "" {
		t.Fatalf("expected a rendered status line")
	}
}

func TestReporter_NilCallbackDoesNotPanic(t *testing.T) {
	r := NewReporter(nil)
	r.Observe(ProgressEvent{Kind: TrackVideo, Bytes: 10})
}
