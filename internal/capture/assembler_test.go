package capture

import "testing"

func TestNewAssembler_FloorsPoolSizeToOne(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Kind: TrackVideo, Name: "video", PoolSize: 0})
	if a.cfg.PoolSize != 1 {
		t.Fatalf("PoolSize = %d, want 1", a.cfg.PoolSize)
	}
}

// TestDrainFragments_DecreasingHeadSeqnumDoesNotLowerMaxSeq pins §4.4's
// monotonicity rule: max_seq only ever grows, even if a later fragment
// (possibly served by a stale edge node) reports a lower X-Head-Seqnum than
// one already observed.
func TestDrainFragments_DecreasingHeadSeqnumDoesNotLowerMaxSeq(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Kind: TrackVideo, Name: "video", PoolSize: 2, Info: NewDownloadInfo()})
	a.maxSeq = 100
	a.fragCh <- FetchedFragment{Seq: 5, XHeadSeqNum: 40}

	track := &MediaDL{}
	a.drainFragments(track)

	if a.maxSeq != 100 {
		t.Fatalf("maxSeq regressed to %d after a lower X-Head-Seqnum, want 100", a.maxSeq)
	}
}

func TestDrainFragments_HigherHeadSeqnumRaisesMaxSeq(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Kind: TrackVideo, Name: "video", PoolSize: 2})
	a.maxSeq = 100
	a.cfg.Info = NewDownloadInfo()
	a.fragCh <- FetchedFragment{Seq: 5, XHeadSeqNum: 150}

	track := &MediaDL{}
	a.drainFragments(track)

	if a.maxSeq != 150 {
		t.Fatalf("maxSeq = %d, want 150", a.maxSeq)
	}
}

func TestDispatch_NoOpAfterSeqChClosed(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Kind: TrackAudio, Name: "audio", PoolSize: 1})
	a.closeSeqChOnce()

	// Must not panic by sending on a closed channel.
	a.dispatch(SeqRequest{Seq: 1, MaxSeq: -1})
}

func TestCloseSeqChOnce_Idempotent(t *testing.T) {
	a := NewAssembler(AssemblerConfig{Kind: TrackAudio, Name: "audio", PoolSize: 1})
	a.closeSeqChOnce()
	a.closeSeqChOnce() // must not double-close and panic
}
