package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	elasticBacklogThreshold = 100
	writeRetryBudget        = 10
	assemblerIdleSleep      = 100 * time.Millisecond
	refreshTickInterval     = time.Hour
)

// AssemblerConfig wires one TrackAssembler (§4.5) to its track's shared
// state and output file.
type AssemblerConfig struct {
	Kind           TrackKind
	Name           string
	Info           *DownloadInfo
	Client         *http.Client
	DataFile       string
	PoolSize       int
	TargetDuration int
	MaxTries       uint
	ToFile         bool
	Itag           int
	Refresh        func(ctx context.Context) error
	Reporter       *Reporter
}

// Assembler owns one output file, the seq-dispatch/reorder-write loop, and
// the elastic worker pool for one track. Grounded on Info.go:DownloadStream,
// restructured around channels and an explicit context rather than the
// teacher's polling loop over shared counters.
type Assembler struct {
	cfg AssemblerConfig

	seqCh  chan SeqRequest
	fragCh chan FetchedFragment

	nextSeq      int
	startFrag    int
	writeCursor  int
	maxSeq       int
	active       int
	pending      map[int]FetchedFragment
	pendingDel  []string
	spawned     int
	seqChClosed bool
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Assembler{
		cfg:     cfg,
		seqCh:   make(chan SeqRequest, cfg.PoolSize*2),
		fragCh:  make(chan FetchedFragment, cfg.PoolSize*2),
		maxSeq:  -1,
		pending: make(map[int]FetchedFragment),
	}
}

// Run drives the assembler to completion: it resumes from any existing
// DownloadState, seeds the worker pool, and loops dispatch/write/elastic/
// refresh/idle until every worker has exited and pending is drained.
func (a *Assembler) Run(ctx context.Context) error {
	track := a.cfg.Info.Track(a.cfg.Kind)
	state := a.cfg.Info.State(a.cfg.Kind)

	f, curFrag, err := a.openOutput(state)
	if err != nil {
		a.cfg.Info.Stop()
		return fmt.Errorf("%s: opening output: %w", a.cfg.Name, err)
	}
	defer f.Close()

	if a.cfg.Info.LastSq >= 0 {
		td := a.cfg.TargetDuration
		if td <= 0 {
			td = 1
		}
		seekFloor := a.cfg.Info.LastSq - (LiveMaximumSeekable / td)
		if seekFloor > curFrag {
			log.Warn().Str("track", a.cfg.Name).Int("from", seekFloor).Int("latest", a.cfg.Info.LastSq).
				Msg("stream retains only 5 days of seekability, starting past sequence 0")
			curFrag = seekFloor
			a.startFrag = seekFloor
		}
		a.maxSeq = a.cfg.Info.LastSq
	}

	a.writeCursor = curFrag
	a.nextSeq = curFrag

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.spawnWorkersUpTo(ctx, track, a.cfg.PoolSize)

	tries := writeRetryBudget
	lastRefresh := time.Now()

	for {
		a.drainFragments(track)

		dataReceived := a.writePending(f, &tries)

		downloading := track.ActiveJobs() > 0
		stopping := a.cfg.Info.IsStopping()

		if !downloading {
			break
		}

		if time.Since(lastRefresh) > refreshTickInterval && !stopping && !a.cfg.Info.IsUnavailable() && a.cfg.Refresh != nil {
			_ = a.cfg.Refresh(ctx)
			lastRefresh = time.Now()
		}

		if a.maxSeq-a.nextSeq > elasticBacklogThreshold && track.ActiveJobs() < a.cfg.PoolSize {
			a.spawnWorkersUpTo(ctx, track, a.cfg.PoolSize)
		}

		if tries <= 0 {
			log.Warn().Str("track", a.cfg.Name).Msg("exhausted write retries, raising cancellation")
			a.cfg.Info.Stop()
		}

		if !dataReceived {
			select {
			case <-ctx.Done():
			case <-time.After(assemblerIdleSleep):
			}
		}

		if stopping || track.IsFinished() {
			a.closeSeqChOnce()
		}
	}

	a.closeSeqChOnce()
	a.flushRemaining(f)
	a.retryDeferredDeletes()

	if state != nil {
		state.Fragments = a.writeCursor
		if pos, err := f.Seek(0, io.SeekCurrent); err == nil {
			state.Size = pos
		}
		_ = SaveState(state)
	}

	return nil
}

func (a *Assembler) openOutput(state *DownloadState) (*os.File, int, error) {
	if state != nil && state.Fragments > 0 {
		f, err := os.OpenFile(a.cfg.DataFile, os.O_RDWR, 0666)
		if err == nil {
			if _, err = f.Seek(state.Size, 0); err == nil {
				return f, state.Fragments, nil
			}
			f.Close()
		}
		log.Warn().Str("track", a.cfg.Name).Err(err).Msg("failed to resume, truncating and starting over")
	}

	f, err := os.Create(a.cfg.DataFile)
	return f, 0, err
}

func (a *Assembler) closeSeqChOnce() {
	if a.seqChClosed {
		return
	}
	a.seqChClosed = true
	close(a.seqCh)
}

func (a *Assembler) spawnWorkersUpTo(ctx context.Context, track *MediaDL, target int) {
	for track.ActiveJobs() < target {
		a.spawned++
		name := fmt.Sprintf("%s%d", a.cfg.Name, a.spawned)
		cfg := FetcherConfig{
			Kind:           a.cfg.Kind,
			Name:           name,
			Client:         a.cfg.Client,
			Info:           a.cfg.Info,
			MaxTries:       a.cfg.MaxTries,
			ToFile:         a.cfg.ToFile,
			TargetDuration: a.cfg.TargetDuration,
			Refresh:        a.cfg.Refresh,
		}

		a.dispatch(SeqRequest{Seq: a.nextSeq, MaxSeq: a.maxSeq})
		a.nextSeq++
		a.active++

		go RunFetchWorker(ctx, cfg, a.seqCh, a.fragCh)
	}
}

func (a *Assembler) dispatch(req SeqRequest) {
	if a.seqChClosed {
		return
	}
	select {
	case a.seqCh <- req:
	default:
		// backlog full; the elastic-worker/idle cycle will retry next loop
	}
}

func (a *Assembler) drainFragments(track *MediaDL) {
	for {
		select {
		case frag := <-a.fragCh:
			a.active--
			a.pending[frag.Seq] = frag

			if frag.XHeadSeqNum > a.maxSeq {
				a.maxSeq = frag.XHeadSeqNum
			}

			if !a.cfg.Info.IsStopping() && !a.seqChClosed {
				if a.maxSeq > 0 {
					for (a.nextSeq <= a.maxSeq+1 && a.active < a.cfg.PoolSize) || a.active < 1 {
						a.dispatch(SeqRequest{Seq: a.nextSeq, MaxSeq: a.maxSeq})
						a.nextSeq++
						a.active++
					}
				} else {
					a.dispatch(SeqRequest{Seq: a.nextSeq, MaxSeq: a.maxSeq})
					a.nextSeq++
					a.active++
				}
			}
		default:
			return
		}
	}
}

// writePending scans pending for the next fragment in sequence, writing
// each to the output file through RemoveSidx before advancing write_cursor.
// Reports whether any fragment was consumed this call.
func (a *Assembler) writePending(f *os.File, tries *int) bool {
	wrote := false

	for *tries > 0 {
		frag, ok := a.pending[a.writeCursor]
		if !ok {
			break
		}

		data := frag.Data
		if a.cfg.ToFile {
			read, err := os.ReadFile(frag.Path)
			if err != nil {
				*tries--
				log.Warn().Str("track", a.cfg.Name).Int("seq", a.writeCursor).Err(err).Msg("reading fragment for write failed")
				continue
			}
			data = read
		}

		fixed := data
		if frag.MimeType == "" || strings.HasSuffix(frag.MimeType, "/mp4") {
			if a.writeCursor == a.startFrag {
				fixed = RemoveSidx(data)
			} else {
				fixed = RemoveSidxAndLeadingFtyp(data)
			}
		}

		n, err := f.Write(fixed)
		if err != nil {
			*tries--
			log.Warn().Str("track", a.cfg.Name).Int("seq", a.writeCursor).Err(err).Msg("writing fragment failed")
			continue
		}

		delete(a.pending, a.writeCursor)
		a.writeCursor++
		wrote = true
		*tries = writeRetryBudget

		if a.cfg.Reporter != nil {
			a.cfg.Reporter.Observe(ProgressEvent{
				Kind: a.cfg.Kind, Itag: a.cfg.Itag, Bytes: n,
				MaxSeq: a.maxSeq, StartFrag: a.startFrag,
			})
		}

		if a.cfg.ToFile {
			if err := os.Remove(frag.Path); err != nil {
				log.Warn().Str("track", a.cfg.Name).Err(err).Msg("deleting fragment temp file failed, retrying at shutdown")
				a.pendingDel = append(a.pendingDel, frag.Path)
			}
		}
	}

	return wrote
}

func (a *Assembler) flushRemaining(f *os.File) {
	for {
		select {
		case frag := <-a.fragCh:
			a.pending[frag.Seq] = frag
		default:
			finalTries := writeRetryBudget
			a.writePending(f, &finalTries)
			if a.cfg.ToFile {
				for _, frag := range a.pending {
					_ = os.Remove(frag.Path)
				}
			}
			return
		}
	}
}

func (a *Assembler) retryDeferredDeletes() {
	for _, p := range a.pendingDel {
		if err := os.Remove(p); err != nil {
			log.Warn().Str("track", a.cfg.Name).Str("path", p).Err(err).Msg("deferred fragment delete still failing")
		}
	}
}
