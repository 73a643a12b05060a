package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SeqRequest is dispatched on a track's work channel: the sequence number to
// fetch and the highest sequence the assembler currently believes exists
// (§4.4 step 1).
type SeqRequest struct {
	Seq    int
	MaxSeq int
}

// FetchedFragment is what a worker places on the result channel (§3
// Fragment, renamed to avoid colliding with the on-disk temp-file-only
// notion): ownership passes to TrackAssembler on send.
type FetchedFragment struct {
	Seq         int
	Path        string
	Data        []byte
	XHeadSeqNum int
	MimeType    string
	Slow        bool
}

// FetcherConfig holds the per-track, run-wide parameters a worker pool needs
// but that never change after StateController resolves them.
type FetcherConfig struct {
	Kind           TrackKind
	Name           string
	Client         *http.Client
	Info           *DownloadInfo
	MaxTries       uint // 0 = unlimited
	ToFile         bool
	TargetDuration int
	Refresh        func(ctx context.Context) error
}

const (
	starvationLimit = 10
	fullRetryBudget = 3
)

// RunFetchWorker is one FragmentFetcher pool member (§4.4). It pulls
// SeqRequests from seqCh until the channel closes or the track is finished,
// downloading each fragment with the retry/refresh/trailing-fragment policy
// described in the spec, and emits completed fragments on fragCh.
//
// Grounded on Info.go:DownloadFrags/downloadFragment and
// util.go:ContinueFragmentDownload/HandleFragHttpError/HandleFragDownloadError,
// restructured around an explicit context and channel close instead of the
// teacher's shared-struct polling.
func RunFetchWorker(ctx context.Context, cfg FetcherConfig, seqCh <-chan SeqRequest, fragCh chan<- FetchedFragment) {
	track := cfg.Info.Track(cfg.Kind)
	track.IncJobs()
	defer track.DecJobs()

	targetDur := cfg.TargetDuration
	if targetDur <= 0 {
		targetDur = 1 // §8 boundary: target_duration=0 floors to a small positive default
	}

	for {
		var req SeqRequest
		var ok bool

		select {
		case <-ctx.Done():
			return
		case req, ok = <-seqCh:
			if !ok {
				return
			}
		}

		if cfg.Info.IsStopping() || track.IsFinished() {
			return
		}

		if !fetchOneFragment(ctx, cfg, track, req, targetDur, fragCh) {
			return
		}
	}
}

func fetchOneFragment(ctx context.Context, cfg FetcherConfig, track *MediaDL, req SeqRequest, targetDur int, fragCh chan<- FetchedFragment) bool {
	tries := 0
	fullRetries := fullRetryBudget
	is403 := false
	fname := fmt.Sprintf("%s.frag%d.ts", track.BasePath(), req.Seq)

	for cfg.MaxTries == 0 || tries < int(cfg.MaxTries) {
		if cfg.Info.IsStopping() {
			return false
		}

		fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(2*targetDur)*time.Second)
		data, headSeq, mimeType, status, err := doFragmentRequest(fetchCtx, cfg.Client, track.URL(), track.URLHost(), req.Seq)
		cancel()

		dlStart := time.Now()

		switch {
		case err != nil:
			log.Debug().Str("track", cfg.Name).Int("seq", req.Seq).Err(err).Msg("fragment request error")
			if req.MaxSeq > -1 && !cfg.Info.IsLive() && req.Seq >= req.MaxSeq-2 {
				track.SetFinished()
				return false
			}
			tries++
			if !continueAfterFailure(cfg, track, &tries, &fullRetries, is403, req, fname) {
				return false
			}
			time.Sleep(time.Duration(targetDur) * time.Second)
			continue

		case status >= 400:
			log.Debug().Str("track", cfg.Name).Int("seq", req.Seq).Int("status", status).Msg("fragment http error")
			if status == http.StatusForbidden {
				is403 = true
				if cfg.Refresh != nil {
					_ = cfg.Refresh(ctx)
				}
			} else if status == http.StatusNotFound && req.MaxSeq > -1 && !cfg.Info.IsLive() && req.Seq > req.MaxSeq-2 {
				track.SetFinished()
				return false
			}
			tries++
			if !continueAfterFailure(cfg, track, &tries, &fullRetries, is403, req, fname) {
				return false
			}
			time.Sleep(time.Duration(targetDur) * time.Second)
			continue

		case len(data) == 0:
			tries++
			if !continueAfterFailure(cfg, track, &tries, &fullRetries, is403, req, fname) {
				return false
			}
			time.Sleep(time.Duration(targetDur) * time.Second)
			continue
		}

		dlDuration := time.Since(dlStart)

		var path string
		if cfg.ToFile {
			if err := os.WriteFile(fname, data, 0644); err != nil {
				log.Debug().Str("track", cfg.Name).Int("seq", req.Seq).Err(err).Msg("write fragment to temp file failed")
				tries++
				if !continueAfterFailure(cfg, track, &tries, &fullRetries, is403, req, fname) {
					_ = os.Remove(fname)
					return false
				}
				time.Sleep(time.Duration(targetDur) * time.Second)
				continue
			}
			path = fname
		}

		isSlow := false
		if headSeq < 0 || req.Seq < headSeq-10 {
			isSlow = dlDuration > time.Duration(float64(targetDur)*1.5*float64(time.Second))
		}

		frag := FetchedFragment{
			Seq:         req.Seq,
			Path:        path,
			XHeadSeqNum: headSeq,
			MimeType:    mimeType,
			Slow:        isSlow,
		}
		if !cfg.ToFile {
			frag.Data = data
		}

		select {
		case fragCh <- frag:
		case <-ctx.Done():
			return false
		}
		return true
	}

	return false
}

// continueAfterFailure applies ContinueFragmentDownload's policy (§4.4 step
// 8): once MaxTries is hit for one seq, decide whether to give up on this
// worker or reset and try the fragment again.
func continueAfterFailure(cfg FetcherConfig, track *MediaDL, tries, fullRetries *int, is403 bool, req SeqRequest, fname string) bool {
	if cfg.MaxTries == 0 || *tries < int(cfg.MaxTries) {
		return true
	}

	*fullRetries--

	if cfg.Info.IsLive() && cfg.Refresh != nil {
		_ = cfg.Refresh(context.Background())
	}

	if !cfg.Info.IsLive() || cfg.Info.IsUnavailable() {
		if is403 {
			track.SetFinished()
			return false
		}
		if req.MaxSeq > -1 && req.Seq < req.MaxSeq-2 && *fullRetries > 0 {
			*tries = 0
			return true
		}
		track.SetFinished()
		return false
	}

	*tries = 0
	return true
}

func doFragmentRequest(ctx context.Context, client *http.Client, urlTemplate, host string, seq int) (data []byte, headSeq int, mimeType string, status int, err error) {
	seqURL := fmt.Sprintf(urlTemplate, seq)

	req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, seqURL, nil)
	if rerr != nil {
		return nil, -1, "", 0, rerr
	}

	if host != "" {
		req.Header.Set("Host", host)
		req.Header.Set("Referer", fmt.Sprintf("https://%s/", host))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:87.0) Gecko/20100101 Firefox/87.0")
	req.Header.Set("Origin", "https://www.youtube.com")

	resp, err := client.Do(req)
	if err != nil {
		return nil, -1, "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, -1, "", resp.StatusCode, err
	}

	headSeq = -1
	if hs := resp.Header.Get("X-Head-Seqnum"); hs != "" {
		if v, perr := strconv.Atoi(hs); perr == nil {
			headSeq = v
		}
	}

	mimeType = resp.Header.Get("Content-Type")
	if !strings.HasSuffix(mimeType, "/mp4") && !strings.HasSuffix(mimeType, "/webm") {
		log.Trace().Str("mime", mimeType).Int("seq", seq).Msg("fragment has unexpected mime type")
	}

	return body, headSeq, mimeType, resp.StatusCode, nil
}
