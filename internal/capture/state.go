package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// StateController drives the discovery → wait → live → finishing lifecycle
// (§4.2). It owns the single InfoProbe instance for this run and every
// field of DownloadInfo that only it is allowed to mutate (chosen itag,
// URLs, live/unavailable flags).
type StateController struct {
	Info    *DownloadInfo
	Probe   *InfoProbe
	Manifest *ManifestResolver

	SelectedQuality string
	PreferVP9       bool
	PreferH264      bool
}

// NewStateController wires a StateController's ManifestResolver to fetch
// manifests through the same InfoProbe/http.Client used for watch pages, so
// cookies and the configured network family apply uniformly.
func NewStateController(info *DownloadInfo, probe *InfoProbe) *StateController {
	sc := &StateController{Info: info, Probe: probe}
	sc.Manifest = NewManifestResolver(func(u string) ([]byte, error) {
		return probe.FetchData(context.Background(), u)
	})
	return sc
}

// ParseInputURL resolves the caller-supplied URL into a video id or, for
// channel URLs, rewrites Info.URL to the channel's /live page and marks
// ChannelURL so the wait loop knows to re-resolve on every poll (§4.2 input
// URL parsing (a)-(d)). Grounded on Info.go:ParseInputUrl.
func (sc *StateController) ParseInputURL() error {
	di := sc.Info
	parsed, err := url.Parse(di.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	path := strings.ToLower(parsed.EscapedPath())
	query := parsed.Query()

	switch {
	case host == "youtube.com" && strings.HasPrefix(path, "/watch"):
		if !query.Has("v") {
			return fmt.Errorf("%w: youtube URL missing video id", ErrDiscovery)
		}
		di.VideoID = query.Get("v")
		return nil

	case host == "youtube.com" && (strings.HasPrefix(path, "/channel/") ||
		strings.HasPrefix(path, "/c/") || strings.HasPrefix(path, "/user/") || strings.HasPrefix(path, "/@")):
		chanSlash := strings.Index(path[1:], "/") + 1
		noChanPath := path[chanSlash:]
		if strings.LastIndex(noChanPath, "/") > 0 {
			if last := strings.LastIndex(di.URL, "/"); last > 0 {
				di.URL = di.URL[:last]
			}
		}
		di.URL = di.URL + "/live"
		di.SetChannelURL(true)
		return nil

	case host == "youtube.com" && strings.HasPrefix(path, "/live/"):
		videoID := strings.Trim(strings.TrimPrefix(path, "/live/"), "/")
		if videoID == "" {
			return fmt.Errorf("%w: could not parse video id from /live/ URL", ErrDiscovery)
		}
		di.VideoID = videoID
		return nil

	case host == "youtu.be":
		di.VideoID = strings.TrimLeft(parsed.EscapedPath(), "/")
		return nil

	case strings.HasSuffix(host, ".googlevideo.com"):
		return sc.parseDirectURL(parsed, query)
	}

	return fmt.Errorf("%w: %s is not a known valid youtube URL", ErrDiscovery, di.URL)
}

// parseDirectURL handles direct-URL mode (§4.2 (d)): the engine cannot
// probe, so quality is dictated by the URL's own itag.
func (sc *StateController) parseDirectURL(parsed *url.URL, query url.Values) error {
	di := sc.Info

	if !query.Has("noclen") {
		return fmt.Errorf("%w: given Google Video URL is not for a fragmented stream", ErrDiscovery)
	}

	di.SetDirectURLMode(true)

	id := query.Get("id")
	if dot := strings.LastIndex(id, "."); dot >= 0 {
		id = id[:dot]
	}
	di.VideoID = id
	di.FormatInfo["id"] = id

	sqIdx := strings.Index(di.URL, "&sq=")
	if sqIdx < 0 {
		return fmt.Errorf("%w: could not find 'sq' parameter in given Google Video URL", ErrDiscovery)
	}

	itag, err := strconv.Atoi(query.Get("itag"))
	if err != nil {
		return fmt.Errorf("%w: error parsing itag parameter of Google Video URL: %v", ErrDiscovery, err)
	}

	tmpl := di.URL[:sqIdx] + "&sq=%d"
	if itag == AudioItag {
		di.Audio.SetURL(tmpl)
	} else {
		di.Video.SetURL(tmpl)
		di.ChosenVideoItag = itag
	}

	return nil
}

// ParseGVideoURL validates and templatizes a direct counterpart-track URL
// solicited interactively in direct-URL mode, grounded on
// util.go:ParseGvideoUrl.
func ParseGVideoURL(rawURL string, kind TrackKind) (template string, itag int, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}

	templated := strings.ReplaceAll(rawURL, "%", "%%")
	lowerHost := strings.ToLower(parsed.Hostname())

	itag, err = strconv.Atoi(parsed.Query().Get("itag"))
	if err != nil {
		return "", 0, fmt.Errorf("error parsing itag in Google Video URL: %w", err)
	}

	if !strings.HasSuffix(lowerHost, ".googlevideo.com") {
		return "", 0, errors.New("URL is not a googlevideo.com URL")
	}
	if !parsed.Query().Has("noclen") {
		return "", 0, errors.New("given URL is not for a fragmented stream")
	}
	if kind == TrackAudio && itag != AudioItag {
		return "", 0, errors.New("given audio URL does not have the audio itag")
	}
	if kind == TrackVideo && itag == AudioItag {
		return "", 0, errors.New("given video URL has the audio itag set")
	}

	sqIdx := strings.Index(templated, "&sq=")
	if sqIdx < 0 {
		sqIdx = len(templated)
	}

	return templated[:sqIdx] + "&sq=%d", itag, nil
}

// Discover runs the playability state machine once (§4.2): fetch the watch
// page (or channel /streams page), parse the player response, and return it
// along with the caller's next action. It never sleeps; StateController's
// caller owns wait scheduling so the cancellation flag stays observable.
type DiscoverResult struct {
	PlayerResponse *PlayerResponse
	Status         string
	ScheduledAt    time.Time
	PollDelay      time.Duration
}

func (sc *StateController) Discover(ctx context.Context) (*DiscoverResult, error) {
	di := sc.Info

	watchHTML, err := sc.fetchWatchPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	pr, err := ParsePlayerResponse(watchHTML)
	if err != nil {
		return nil, err
	}

	if di.ChannelURL() {
		if id := videoIDFromCanonicalLink(watchHTML); id != "" {
			di.VideoID = id
		}
	}

	if pr.VideoDetails.VideoID == "" {
		di.SetLive(false)
		di.SetUnavailable(true)
		return nil, fmt.Errorf("%w: video details missing, likely private or removed", ErrDiscovery)
	}

	if !pr.VideoDetails.IsLiveContent {
		return nil, ErrNotLive
	}

	res := &DiscoverResult{PlayerResponse: pr, Status: pr.PlayabilityStatus.Status}

	switch pr.PlayabilityStatus.Status {
	case PlayableOK:
		if cfg, err := ParseYTCFG(watchHTML); err == nil {
			di.Ytcfg = cfg
			sc.Probe.Ytcfg = cfg
		}
		return res, nil

	case PlayableOffline:
		renderer := pr.PlayabilityStatus.LiveStreamability.LiveStreamabilityRenderer
		if sched, serr := strconv.ParseInt(renderer.OfflineSlate.LiveStreamOfflineSlateRenderer.ScheduledStartTime, 10, 64); serr == nil {
			res.ScheduledAt = time.Unix(sched, 0)
		}
		if delayMs, derr := strconv.Atoi(renderer.PollDelayMs); derr == nil && delayMs > 0 {
			res.PollDelay = time.Duration(delayMs) * time.Millisecond
		}
		return res, nil

	case PlayableUnplayable, PlayableError:
		return res, fmt.Errorf("%w: %s", ErrUnplayable, pr.PlayabilityStatus.Reason)

	default:
		return res, fmt.Errorf("%w: unknown playability status %q", ErrDiscovery, pr.PlayabilityStatus.Status)
	}
}

// DiscoverWithRetry wraps Discover with exponential backoff for transient
// network failures (timeouts, DNS, 5xx), distinct from the playability
// state machine's own pollDelayMs-driven wait. A result or a definitive
// ErrNotLive/ErrUnplayable returns immediately without consuming the retry
// budget. Grounded on the retry posture of player_response.go's watch-page
// fetch loop, restructured onto github.com/cenkalti/backoff/v4 rather than
// the teacher's fixed time.Sleep.
func (sc *StateController) DiscoverWithRetry(ctx context.Context, maxElapsed time.Duration) (*DiscoverResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = maxElapsed

	var res *DiscoverResult
	op := func() error {
		r, err := sc.Discover(ctx)
		if err != nil {
			if errors.Is(err, ErrNotLive) || errors.Is(err, ErrUnplayable) {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return res, nil
}

func (sc *StateController) fetchWatchPage(ctx context.Context) ([]byte, error) {
	di := sc.Info

	if di.ChannelURL() {
		streamURL, err := sc.Probe.NewestStreamFromChannelStreams(ctx, di.URL, di.MembersOnly())
		if err == nil && streamURL != "" {
			return sc.Probe.FetchData(ctx, streamURL)
		}
	}

	if di.MembersOnly() && di.ChannelURL() {
		return nil, fmt.Errorf("no members-only live stream currently found")
	}

	return sc.Probe.FetchData(ctx, di.URL)
}

// resolveDownloadURLs merges the Android and web streaming-data URL maps,
// Android taking precedence per itag since it serves unthrottled fragment
// URLs. Grounded on Info.go:GetDownloadUrls. A failed or unusable Android
// fetch is non-fatal: the web player response alone is always sufficient.
func (sc *StateController) resolveDownloadURLs(ctx context.Context, webPR *PlayerResponse) (map[int]string, int, error) {
	di := sc.Info
	urls := make(map[int]string)
	lastSq := -1

	if sc.Probe != nil {
		androidPR, err := sc.Probe.FetchAndroidPlayerResponse(ctx, di.VideoID)
		if err != nil {
			log.Debug().Err(err).Msg("android player response unavailable, using web URLs only")
		} else {
			androidURLs, androidLastSq, rerr := sc.Manifest.Resolve(androidPR.StreamingData)
			if rerr == nil {
				urls = androidURLs
				lastSq = androidLastSq
			}
		}
	}

	webURLs, webLastSq, err := sc.Manifest.Resolve(webPR.StreamingData)
	if err != nil {
		return nil, -1, err
	}
	if webLastSq > lastSq {
		lastSq = webLastSq
	}
	for itag, u := range webURLs {
		if _, ok := urls[itag]; !ok {
			urls[itag] = u
		}
	}

	return urls, lastSq, nil
}

// SelectQuality resolves the user's preference list to a concrete itag pair
// on first Live transition (§4.2 quality resolution). Once resolved,
// Info.ChosenVideoItag is fixed for the run (§3 invariant).
func (sc *StateController) SelectQuality(ctx context.Context, pr *PlayerResponse) error {
	di := sc.Info

	urls, lastSq, err := sc.resolveDownloadURLs(ctx, pr)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("%w: no download URLs found", ErrDiscovery)
	}
	if lastSq > di.LastSq {
		di.LastSq = lastSq
	}

	if len(pr.StreamingData.AdaptiveFormats) > 0 {
		if td := int(pr.StreamingData.AdaptiveFormats[0].TargetDurationSec); td > 0 {
			di.TargetDuration = td
		}
	}

	if di.ChosenVideoItag >= 0 {
		return sc.rebindResolvedURLs(urls)
	}

	available := AvailableLabels(urls)
	selected := ParseQualitySelection(VideoQualities, sc.SelectedQuality)
	if len(selected) == 0 {
		selected = []string{"best"}
	}

	resolved, ok := ResolveQuality(selected, available, urls, sc.PreferVP9, sc.PreferH264)
	if !ok {
		return ErrNoQuality
	}

	if !di.VideoOnly() {
		di.Audio.SetURL(urls[AudioItag])
	}

	if resolved.AudioOnly {
		di.ChosenVideoItag = AudioOnlyQuality
		log.Info().Str("quality", resolved.Label).Msg("selected audio-only")
		return nil
	}

	di.Video.SetURL(urls[resolved.VideoItag])
	di.ChosenVideoItag = resolved.VideoItag
	di.SelectedQuality = resolved.Label

	kind := "h264"
	if resolved.IsVP9 {
		kind = "vp9"
	}
	log.Info().Str("quality", resolved.Label).Str("codec", kind).Msg("selected quality")
	return nil
}

func (sc *StateController) rebindResolvedURLs(urls map[int]string) error {
	di := sc.Info

	if !di.VideoOnly() {
		if u, ok := urls[AudioItag]; ok && IsFragmented(u) {
			di.Audio.SetURL(u)
		}
	}
	if di.ChosenVideoItag != AudioOnlyQuality {
		if u, ok := urls[di.ChosenVideoItag]; ok && IsFragmented(u) {
			di.Video.SetURL(u)
		}
	}
	return nil
}

// Refresh re-invokes discovery and rebinds both tracks' URL templates
// (§4.2 URL refresh). Rate-limited to once per 15s and a no-op in
// direct-URL mode, matching the §8 testable property on refresh calls.
func (sc *StateController) Refresh(ctx context.Context) error {
	di := sc.Info

	if di.DirectURLMode() || di.IsStopping() || di.IsUnavailable() {
		return nil
	}
	if di.TimeSinceUpdated() < DefaultPollTime*time.Second {
		return nil
	}

	res, err := sc.Discover(ctx)
	di.touchUpdated()

	if err != nil {
		if errors.Is(err, ErrUnplayable) || errors.Is(err, ErrNotLive) {
			di.SetLive(false)
		}
		return err
	}

	if res.PlayerResponse == nil {
		return nil
	}

	di.SetLive(res.PlayerResponse.Microformat.PlayerMicroformatRenderer.LiveBroadcastDetails.IsLiveNow)

	if !di.IsInProgress() {
		di.FormatInfo.fillFrom(res.PlayerResponse)
		di.Metadata.fillFrom(di.FormatInfo)
		if thumbs := res.PlayerResponse.Microformat.PlayerMicroformatRenderer.Thumbnail.Thumbnails; len(thumbs) > 0 {
			di.Thumbnail = thumbs[0].URL
		}
		di.SetInProgress(true)
	}

	return sc.SelectQuality(ctx, res.PlayerResponse)
}

func (fi FormatInfo) fillFrom(pr *PlayerResponse) {
	pmfr := pr.Microformat.PlayerMicroformatRenderer
	startDate := strings.ReplaceAll(pmfr.LiveBroadcastDetails.StartTimestamp, "-", "")
	if len(startDate) > 8 {
		startDate = startDate[:8]
	}

	fi["id"] = pr.VideoDetails.VideoID
	fi["url"] = fmt.Sprintf("https://www.youtube.com/watch?v=%s", pr.VideoDetails.VideoID)
	fi["title"] = strings.TrimSpace(pr.VideoDetails.Title)
	fi["channel_id"] = pr.VideoDetails.ChannelID
	fi["channel"] = pr.VideoDetails.Author
	fi["upload_date"] = startDate
	fi["start_date"] = startDate
	fi["publish_date"] = strings.ReplaceAll(pmfr.PublishDate, "-", "")
	fi["description"] = strings.TrimSpace(pr.VideoDetails.ShortDescription)
}

func (mi MetaInfo) fillFrom(fi FormatInfo) {
	for k, v := range mi {
		if val, err := ExpandTemplate(v, fi); err == nil {
			mi[k] = val
		}
	}
}
