// Command livecapture records an in-progress YouTube live broadcast to disk
// fragment-by-fragment and merges the result with ffmpeg once the broadcast
// ends. Grounded on main.go's run() for the overall flag/signal/merge flow,
// restructured around capture.StateController/Assembler and an errgroup
// instead of the teacher's global vars and ad hoc progress channel.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	str2duration "github.com/xhit/go-str2duration/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hadroncrest/livecapture/internal/capture"
	"github.com/hadroncrest/livecapture/internal/mux"
	"github.com/hadroncrest/livecapture/internal/xlog"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:      "livecapture",
		Usage:     "capture a YouTube live broadcast fragment by fragment",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "quality", Aliases: []string{"q"}, Value: "best"},
			&cli.BoolFlag{Name: "vp9"},
			&cli.BoolFlag{Name: "h264"},
			&cli.BoolFlag{Name: "no-audio"},
			&cli.BoolFlag{Name: "no-video"},
			&cli.BoolFlag{Name: "members-only"},
			&cli.StringFlag{Name: "cookies"},
			&cli.StringFlag{Name: "proxy"},
			&cli.StringFlag{Name: "network", Usage: "tcp, tcp4, or tcp6"},
			&cli.IntFlag{Name: "threads", Value: 1},
			&cli.UintFlag{Name: "retry-frags", Value: 10, Usage: "attempts per fragment before giving up, 0 for unlimited"},
			&cli.StringFlag{Name: "output-dir", Value: "."},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "%(id)s"},
			&cli.BoolFlag{Name: "mkv"},
			&cli.BoolFlag{Name: "add-metadata"},
			&cli.StringFlag{Name: "wait-poll", Value: "15s", Usage: "fallback poll interval while waiting for a scheduled stream"},
			&cli.StringFlag{Name: "wait", Value: "ask", Usage: "ask, yes, or no: wait for a scheduled stream to start"},
			&cli.StringFlag{Name: "merge-on-cancel", Value: "ask"},
			&cli.StringFlag{Name: "save-on-cancel", Value: "ask"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
			&cli.StringFlag{Name: "ffmpeg-path", Value: "ffmpeg"},
			&cli.BoolFlag{Name: "newline-status"},
		},
		Action: runCapture,
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func parseAction(s string) capture.WaitAction {
	switch strings.ToLower(s) {
	case "yes", "y", "do":
		return capture.ActionDo
	case "no", "n", "dont", "do-not":
		return capture.ActionDoNot
	default:
		return capture.ActionAsk
	}
}

func parseLevel(s string) xlog.Level {
	switch strings.ToLower(s) {
	case "quiet":
		return xlog.LevelQuiet
	case "error":
		return xlog.LevelError
	case "warn", "warning":
		return xlog.LevelWarn
	case "debug":
		return xlog.LevelDebug
	case "trace":
		return xlog.LevelTrace
	default:
		return xlog.LevelInfo
	}
}

func runCapture(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("a video, channel, or direct Google Video URL is required", 1)
	}

	xlog.Init(parseLevel(c.String("log-level")), os.Stderr)

	di := capture.NewDownloadInfo()
	di.URL = c.Args().Get(0)
	di.SetAudioOnly(c.Bool("no-video"))
	di.SetVideoOnly(c.Bool("no-audio"))
	di.SetMembersOnly(c.Bool("members-only"))
	di.Wait = parseAction(c.String("wait"))
	di.Jobs = c.Int("threads")
	if di.Jobs < 1 {
		di.Jobs = 1
	}
	di.FragMaxTries = uint(c.Uint("retry-frags"))

	clientOpts := capture.ClientOptions{Family: capture.NetworkFamily(c.String("network"))}

	if px := c.String("proxy"); px != "" {
		proxyURL, err := url.Parse(px)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid proxy URL: %v", err), 1)
		}
		clientOpts.Proxy = proxyURL
	}

	if cf := c.String("cookies"); cf != "" {
		jar, err := capture.LoadNetscapeCookies(cf)
		if err != nil {
			return cli.Exit(fmt.Sprintf("loading cookies: %v", err), 1)
		}
		clientOpts.Jar = jar
		di.CookiesURL, _ = url.Parse("https://www.youtube.com")
	}

	httpClient := capture.NewHTTPClient(clientOpts)
	probe := capture.NewInfoProbe(httpClient, di.CookiesURL)
	sc := capture.NewStateController(di, probe)
	sc.SelectedQuality = c.String("quality")
	sc.PreferVP9 = c.Bool("vp9")
	sc.PreferH264 = c.Bool("h264")

	if err := sc.ParseInputURL(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	pollInterval, perr := str2duration.ParseDuration(c.String("wait-poll"))
	if perr != nil {
		pollInterval = capture.DefaultPollTime * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := waitForLive(ctx, di, sc, pollInterval); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fdir, err := os.MkdirTemp("", "livecapture-*")
	if err != nil {
		return err
	}
	di.Audio.SetBasePath(filepath.Join(fdir, "audio"))
	di.Video.SetBasePath(filepath.Join(fdir, "video"))

	reporter := capture.NewReporter(func(line string) {
		if c.Bool("newline-status") {
			fmt.Fprintln(os.Stderr, line)
		} else {
			fmt.Fprint(os.Stderr, line+"\033[K")
		}
	})

	refresh := func(ctx context.Context) error { return sc.Refresh(ctx) }

	g, gctx := errgroup.WithContext(ctx)
	if !di.AudioOnly() {
		g.Go(func() error {
			return assembleTrack(gctx, di, capture.TrackAudio, httpClient, di.Jobs, reporter, refresh)
		})
	}
	if !di.VideoOnly() {
		g.Go(func() error {
			return assembleTrack(gctx, di, capture.TrackVideo, httpClient, di.Jobs, reporter, refresh)
		})
	}

	go watchInterrupt(ctx, di)

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("capture ended with error")
	}

	fa, fv := reporter.FragmentCounts()
	if !di.AudioOnly() && !di.VideoOnly() && fa != fv {
		log.Warn().Int("audio_fragments", fa).Int("video_fragments", fv).
			Msg("mismatched fragment counts, output should still be mergable")
	}

	return mergeOutputs(di, c)
}

// assembleTrack wires one track's Assembler to its DataFile and itag,
// grounded on main.go's per-track DownloadStream goroutine launch.
func assembleTrack(ctx context.Context, di *capture.DownloadInfo, kind capture.TrackKind, client *http.Client, poolSize int, reporter *capture.Reporter, refresh func(context.Context) error) error {
	track := di.Track(kind)
	itag := di.ChosenVideoItag
	if kind == capture.TrackAudio {
		itag = capture.AudioItag
	}

	cfg := capture.AssemblerConfig{
		Kind:           kind,
		Name:           kind.String(),
		Info:           di,
		Client:         client,
		DataFile:       track.BasePath() + ".ts",
		PoolSize:       poolSize,
		TargetDuration: di.TargetDuration,
		MaxTries:       di.FragMaxTries,
		ToFile:         di.FragFiles(),
		Itag:           itag,
		Refresh:        refresh,
		Reporter:       reporter,
	}

	return capture.NewAssembler(cfg).Run(ctx)
}

// waitForLive polls discovery until the stream transitions to OK or the
// caller declines to wait for a scheduled start (§4.2). While offline it
// either sleeps until the reported scheduledStartTime or for the server's
// pollDelayMs, whichever the response supplies, but never for longer than
// wakeInterval at a stretch so cancellation is still observed promptly; once
// scheduledStartTime has passed it re-probes every wakeInterval and reports
// how late the stream is running.
func waitForLive(ctx context.Context, di *capture.DownloadInfo, sc *capture.StateController, pollInterval time.Duration) error {
	const wakeInterval = capture.DefaultPollTime * time.Second

	for {
		res, err := sc.Discover(ctx)
		if err != nil {
			return err
		}

		switch res.Status {
		case capture.PlayableOK:
			di.SetLive(true)
			return sc.SelectQuality(ctx, res.PlayerResponse)

		case capture.PlayableOffline:
			if di.Wait == capture.ActionDoNot {
				return capture.ErrNoWait
			}
			if di.Wait == capture.ActionAsk && !res.ScheduledAt.IsZero() {
				if !promptYesNo(fmt.Sprintf("Stream is scheduled for %s. Wait for it to start?", res.ScheduledAt.Local())) {
					return capture.ErrNoWait
				}
				di.Wait = capture.ActionDo
			}

			delay := pollInterval
			switch {
			case !res.ScheduledAt.IsZero() && time.Now().Before(res.ScheduledAt):
				delay = time.Until(res.ScheduledAt)
				log.Info().Time("scheduled", res.ScheduledAt).Msg("stream is offline, waiting for scheduled start")
			case !res.ScheduledAt.IsZero():
				log.Info().Dur("late_by", time.Since(res.ScheduledAt).Round(time.Second)).Msg("stream is past its scheduled start, re-probing")
			case res.PollDelay > 0:
				delay = res.PollDelay
				log.Info().Dur("poll_in", delay).Msg("stream is offline, waiting")
			default:
				log.Info().Dur("poll_in", delay).Msg("stream is offline, waiting")
			}
			if delay > wakeInterval || delay <= 0 {
				delay = wakeInterval
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

func mergeOutputs(di *capture.DownloadInfo, c *cli.Context) error {
	if di.IsStopping() {
		return nil
	}

	name, err := capture.FormatOutputFilename(c.String("output"), di.FormatInfo)
	if err != nil || name == "" {
		name = di.FormatInfo["id"]
	}

	req := mux.Request{
		AudioFile:  di.Audio.BasePath() + ".ts",
		VideoFile:  di.Video.BasePath() + ".ts",
		OutputDir:  c.String("output-dir"),
		BaseName:   name,
		Container:  mux.ContainerMP4,
		AddMeta:    c.Bool("add-metadata"),
		Metadata:   di.Metadata,
		AudioOnly:  di.AudioOnly(),
		VideoOnly:  di.VideoOnly(),
		FFmpegPath: c.String("ffmpeg-path"),
	}
	if c.Bool("mkv") {
		req.Container = mux.ContainerMKV
	}

	res, err := mux.NewFFmpegMuxer().Merge(req)
	if err != nil {
		return err
	}

	log.Info().Str("file", res.OutputFile).Msg("merge complete")
	return nil
}

// watchInterrupt raises the shared cancellation flag on SIGINT, matching
// main.go's sigChan handling but without the teacher's nested save/merge
// prompt state machine: Stop() alone is enough to let assembleTrack's
// Assembler.Run flush what it has and return.
func watchInterrupt(ctx context.Context, di *capture.DownloadInfo) {
	<-ctx.Done()
	log.Warn().Msg("interrupt received, stopping capture")
	di.Stop()
}

func promptYesNo(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
