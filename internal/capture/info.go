// Package capture implements the fragmented live capture engine: discovery,
// quality selection, URL refresh, concurrent fragment fetch, and ordered
// track assembly for an in-progress live broadcast.
package capture

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// TrackKind distinguishes the two independent capture tracks. Kept as a small
// tagged enum with fixed fields on DownloadInfo rather than a string-keyed
// map, so a typo in a track name can't silently create a third track.
type TrackKind int

const (
	TrackAudio TrackKind = iota
	TrackVideo
)

func (k TrackKind) String() string {
	if k == TrackAudio {
		return "audio"
	}
	return "video"
}

// WaitAction mirrors the three-way ask/do/don't knobs the CLI layer exposes
// for waiting on a scheduled stream and for merge/save-on-cancel behavior.
type WaitAction int

const (
	ActionAsk WaitAction = iota
	ActionDo
	ActionDoNot
)

const (
	AudioItag        = 140
	AudioOnlyQuality = 0
	BufferSize       = 8192

	// DefaultPollTime is youtube's typical pollDelayMs floor, in seconds.
	DefaultPollTime = 15
	// LiveMaximumSeekable is how far back (seconds) a live broadcast stays
	// seekable from its current head before YouTube drops earlier fragments.
	LiveMaximumSeekable = 432000 // 5 days
)

// VideoItag maps a quality label to its h264 and vp9 format identifiers.
type VideoItag struct {
	H264 int
	VP9  int
}

// VideoLabelItags and VideoQualities are the static quality table (§3).
var (
	VideoLabelItags = map[string]VideoItag{
		"audio_only": {H264: 0, VP9: 0},
		"144p":       {H264: 160, VP9: 278},
		"240p":       {H264: 133, VP9: 242},
		"360p":       {H264: 134, VP9: 243},
		"480p":       {H264: 135, VP9: 244},
		"720p":       {H264: 136, VP9: 247},
		"720p60":     {H264: 298, VP9: 302},
		"1080p":      {H264: 137, VP9: 248},
		"1080p60":    {H264: 299, VP9: 303},
		"1440p":      {H264: 264, VP9: 271},
		"1440p60":    {H264: 304, VP9: 308},
		"2160p":      {H264: 266, VP9: 313},
		"2160p60":    {H264: 305, VP9: 315},
	}

	VideoQualities = []string{
		"audio_only", "144p", "240p", "360p", "480p", "720p", "720p60",
		"1080p", "1080p60", "1440p", "1440p60", "2160p", "2160p60",
	}

	filenameFormatBlacklist = []string{"description"}
)

// FormatInfo holds the fields available for output filename/metadata
// templating, populated once on the first successful live discovery.
type FormatInfo map[string]string

// MetaInfo holds the metadata key/value template pairs written to the final
// container by the external mux collaborator.
type MetaInfo map[string]string

func NewFormatInfo() FormatInfo {
	return FormatInfo{
		"id": "", "title": "", "channel_id": "", "channel": "",
		"upload_date": "", "start_date": "", "publish_date": "",
		"description": "", "url": "",
	}
}

func NewMetaInfo() MetaInfo {
	return MetaInfo{
		"title":   "%(title)s",
		"artist":  "%(channel)s",
		"date":    "%(upload_date)s",
		"comment": "%(url)s\n\n%(description)s",
	}
}

// MediaDL is the per-track mutable download state (§3).
type MediaDL struct {
	mu          sync.RWMutex
	activeJobs  int
	downloadURL string
	urlHost     string
	basePath    string
	finished    bool
}

func (m *MediaDL) ActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeJobs
}

func (m *MediaDL) IncJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeJobs++
}

// DecJobs decrements the active worker count. Invariant: only an exiting
// worker may call this, and only once.
func (m *MediaDL) DecJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeJobs--
}

func (m *MediaDL) URL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.downloadURL
}

func (m *MediaDL) SetURL(dlURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if purl, err := url.Parse(dlURL); err == nil {
		m.urlHost = purl.Host
	}
	m.downloadURL = dlURL
}

func (m *MediaDL) URLHost() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.urlHost
}

func (m *MediaDL) BasePath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.basePath
}

func (m *MediaDL) SetBasePath(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.basePath = p
}

func (m *MediaDL) SetFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
}

func (m *MediaDL) IsFinished() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finished
}

// DownloadState is the resumable-download sidecar persisted per track so a
// restarted process can resume mid-capture (original_source/ytarchive.py).
type DownloadState struct {
	Fragments int    `json:"fragments"`
	Size      int64  `json:"size"`
	TempDir   string `json:"temp_dir"`
	File      string `json:"-"`
}

// DownloadInfo is the single run-wide shared-state struct (§3, §5). Every
// mutable field is guarded by mu; MediaDL has its own finer-grained lock so a
// slow probe doesn't block a fetcher reading its track's URL.
type DownloadInfo struct {
	mu sync.Mutex

	FormatInfo FormatInfo
	Metadata   MetaInfo
	CookiesURL *url.URL
	Ytcfg      *YTCFG

	stopping      bool
	inProgress    bool
	live          bool
	vp9           bool
	h264          bool
	unavailable   bool
	directURLMode bool // operating on a pre-signed CDN URL (§4.2 direct-URL mode)
	fragFiles     bool
	channelURL    bool // input was a channel /live URL
	audioOnly     bool
	videoOnly     bool
	membersOnly   bool
	infoPrinted   bool

	Thumbnail       string
	VideoID         string
	URL             string
	SelectedQuality string
	status          string

	FragMaxTries    uint
	Wait            WaitAction
	ChosenVideoItag int // -1 until resolved; never changes once non-negative
	RetrySecs       int
	Jobs            int
	TargetDuration  int
	ExpiresInSecs   int
	LastSq          int
	lastUpdated     time.Time

	Audio *MediaDL
	Video *MediaDL

	AudioState *DownloadState
	VideoState *DownloadState
}

func NewDownloadInfo() *DownloadInfo {
	return &DownloadInfo{
		fragFiles:       true,
		Wait:            ActionAsk,
		ChosenVideoItag: -1,
		Jobs:            1,
		TargetDuration:  5,
		FormatInfo:      NewFormatInfo(),
		Metadata:        NewMetaInfo(),
		Audio:           &MediaDL{},
		Video:           &MediaDL{},
	}
}

func (di *DownloadInfo) Track(kind TrackKind) *MediaDL {
	if kind == TrackAudio {
		return di.Audio
	}
	return di.Video
}

func (di *DownloadInfo) State(kind TrackKind) *DownloadState {
	if kind == TrackAudio {
		return di.AudioState
	}
	return di.VideoState
}

func (di *DownloadInfo) SetVP9(v bool) { di.mu.Lock(); di.vp9 = v; di.mu.Unlock() }
func (di *DownloadInfo) VP9() bool     { di.mu.Lock(); defer di.mu.Unlock(); return di.vp9 }
func (di *DownloadInfo) SetH264(v bool) { di.mu.Lock(); di.h264 = v; di.mu.Unlock() }
func (di *DownloadInfo) H264() bool     { di.mu.Lock(); defer di.mu.Unlock(); return di.h264 }

func (di *DownloadInfo) SetFragFiles(v bool) { di.mu.Lock(); di.fragFiles = v; di.mu.Unlock() }
func (di *DownloadInfo) FragFiles() bool     { di.mu.Lock(); defer di.mu.Unlock(); return di.fragFiles }

func (di *DownloadInfo) SetAudioOnly(v bool) { di.mu.Lock(); di.audioOnly = v; di.mu.Unlock() }
func (di *DownloadInfo) AudioOnly() bool     { di.mu.Lock(); defer di.mu.Unlock(); return di.audioOnly }
func (di *DownloadInfo) SetVideoOnly(v bool) { di.mu.Lock(); di.videoOnly = v; di.mu.Unlock() }
func (di *DownloadInfo) VideoOnly() bool     { di.mu.Lock(); defer di.mu.Unlock(); return di.videoOnly }

func (di *DownloadInfo) SetMembersOnly(v bool) { di.mu.Lock(); di.membersOnly = v; di.mu.Unlock() }
func (di *DownloadInfo) MembersOnly() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.membersOnly
}

func (di *DownloadInfo) SetChannelURL(v bool) { di.mu.Lock(); di.channelURL = v; di.mu.Unlock() }
func (di *DownloadInfo) ChannelURL() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.channelURL
}

func (di *DownloadInfo) SetDirectURLMode(v bool) { di.mu.Lock(); di.directURLMode = v; di.mu.Unlock() }
func (di *DownloadInfo) DirectURLMode() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.directURLMode
}

func (di *DownloadInfo) IsInProgress() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.inProgress
}

func (di *DownloadInfo) SetInProgress(v bool) { di.mu.Lock(); di.inProgress = v; di.mu.Unlock() }

// IsStopping reports the single cancellation flag that every blocking loop
// must check at the head of each cycle (§5, §6 CancellationBus).
func (di *DownloadInfo) IsStopping() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.stopping
}

// Stop raises the cancellation flag and marks both tracks finished so no
// worker pool dispatches new sequence numbers after this returns.
func (di *DownloadInfo) Stop() {
	di.mu.Lock()
	di.stopping = true
	di.mu.Unlock()
	di.Audio.SetFinished()
	di.Video.SetFinished()
}

func (di *DownloadInfo) IsLive() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.live
}

func (di *DownloadInfo) SetLive(v bool) { di.mu.Lock(); di.live = v; di.mu.Unlock() }

func (di *DownloadInfo) IsUnavailable() bool {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.unavailable
}

func (di *DownloadInfo) SetUnavailable(v bool) { di.mu.Lock(); di.unavailable = v; di.mu.Unlock() }

func (di *DownloadInfo) Status() string {
	di.mu.Lock()
	defer di.mu.Unlock()
	return di.status
}

func (di *DownloadInfo) SetStatus(s string) { di.mu.Lock(); di.status = s; di.mu.Unlock() }

func (di *DownloadInfo) TimeSinceUpdated() time.Duration {
	di.mu.Lock()
	defer di.mu.Unlock()
	return time.Since(di.lastUpdated)
}

func (di *DownloadInfo) touchUpdated() {
	di.mu.Lock()
	di.lastUpdated = time.Now()
	di.mu.Unlock()
}

func (fi FormatInfo) sanitizedCopy() map[string]string {
	out := make(map[string]string, len(fi))
	for k, v := range fi {
		if contains(filenameFormatBlacklist, k) {
			out[k] = ""
			continue
		}
		out[k] = SanitizeFilename(v)
	}
	return out
}

func contains(arr []string, val string) bool {
	val = strings.ToLower(strings.TrimSpace(val))
	for _, s := range arr {
		if strings.ToLower(strings.TrimSpace(s)) == val {
			return true
		}
	}
	return false
}
