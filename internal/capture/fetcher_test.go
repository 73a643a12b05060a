package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDoFragmentRequest_ParsesHeadSeqnumAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Head-Seqnum", "42")
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("fragment-data"))
	}))
	defer srv.Close()

	data, headSeq, mimeType, status, err := doFragmentRequest(context.Background(), srv.Client(), srv.URL+"?sq=%d", "", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if headSeq != 42 {
		t.Fatalf("headSeq = %d, want 42", headSeq)
	}
	if mimeType != "video/mp4" {
		t.Fatalf("mimeType = %q, want video/mp4", mimeType)
	}
	if string(data) != "fragment-data" {
		t.Fatalf("data = %q", data)
	}
}

func TestDoFragmentRequest_MissingHeadSeqnumDefaultsToMinusOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	_, headSeq, _, _, err := doFragmentRequest(context.Background(), srv.Client(), srv.URL+"?sq=%d", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headSeq != -1 {
		t.Fatalf("headSeq = %d, want -1 when header absent", headSeq)
	}
}

func TestContinueAfterFailure_GivesUpOnTrailingFragmentAfterStreamEnds(t *testing.T) {
	di := NewDownloadInfo()
	di.SetLive(false)
	track := &MediaDL{}

	tries := 3
	fullRetries := fullRetryBudget
	req := SeqRequest{Seq: 98, MaxSeq: 100}

	cfg := FetcherConfig{MaxTries: 3, Info: di}
	ok := continueAfterFailure(cfg, track, &tries, &fullRetries, true, req, "frag.ts")

	if ok {
		t.Fatalf("expected continueAfterFailure to give up on a 403'd trailing fragment once the stream is offline")
	}
	if !track.IsFinished() {
		t.Fatalf("expected track to be marked finished")
	}
}

func TestContinueAfterFailure_RetriesBelowMaxTries(t *testing.T) {
	di := NewDownloadInfo()
	di.SetLive(true)
	track := &MediaDL{}

	tries := 1
	fullRetries := fullRetryBudget
	req := SeqRequest{Seq: 10, MaxSeq: -1}

	cfg := FetcherConfig{MaxTries: 3, Info: di}
	ok := continueAfterFailure(cfg, track, &tries, &fullRetries, false, req, "frag.ts")

	if !ok {
		t.Fatalf("expected continueAfterFailure to allow another attempt below MaxTries")
	}
}
