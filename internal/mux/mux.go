// Package mux merges a completed capture's audio/video/thumbnail fragments
// into one finished media container via an external ffmpeg process.
package mux

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/rs/zerolog/log"
)

// Container selects the output muxing format.
type Container int

const (
	ContainerMP4 Container = iota
	ContainerMKV
)

func (c Container) ext(audioOnly bool) string {
	if audioOnly {
		return "m4a"
	}
	if c == ContainerMKV {
		return "mkv"
	}
	return "mp4"
}

// Request describes one merge job (§4.6). AudioFile/VideoFile may be empty
// when the run was audio-only or video-only; Thumbnail is optional.
type Request struct {
	AudioFile  string
	VideoFile  string
	Thumbnail  string
	OutputDir  string
	BaseName   string
	Container  Container
	AddMeta    bool
	Metadata   map[string]string
	AudioOnly  bool
	VideoOnly  bool
	FFmpegPath string
}

// Result reports the finished output path, grounded on Info.go's caller of
// GetFFmpegArgs which needs the merge path back for a final existence check.
type Result struct {
	OutputFile string
	ExitCode   int
}

// Muxer runs the external merge step. The default implementation shells out
// to ffmpeg; tests can substitute a fake for golden-arg assertions.
type Muxer interface {
	Merge(req Request) (Result, error)
}

// FFmpegMuxer is the default Muxer, grounded on util.go:GetFFmpegArgs and
// util.go:Execute.
type FFmpegMuxer struct{}

func NewFFmpegMuxer() FFmpegMuxer { return FFmpegMuxer{} }

// Merge builds the ffmpeg argument list for req and runs it to completion,
// streaming stderr to the process's own stderr the way the teacher does.
func (FFmpegMuxer) Merge(req Request) (Result, error) {
	args, outFile := buildArgs(req)

	prog := req.FFmpegPath
	if prog == "" {
		prog = "ffmpeg"
	}

	code, err := execute(prog, args)
	if err != nil {
		return Result{}, err
	}

	return Result{OutputFile: outFile, ExitCode: code}, nil
}

func buildArgs(req Request) (args []string, outFile string) {
	hasThumb := req.Thumbnail != "" && req.Container != ContainerMKV

	args = append(args, "-hide_banner", "-nostdin", "-loglevel", "fatal", "-stats")

	if hasThumb {
		args = append(args, "-i", req.Thumbnail)
	}

	ext := req.Container.ext(req.AudioOnly)
	outFile = filepath.Join(req.OutputDir, fmt.Sprintf("%s.%s", req.BaseName, ext))
	for n := 1; fileExists(outFile) && n < 10; n++ {
		outFile = filepath.Join(req.OutputDir, fmt.Sprintf("%s-%d.%s", req.BaseName, n, ext))
	}

	if !req.VideoOnly && req.AudioFile != "" {
		args = append(args, "-seekable", "0", "-thread_queue_size", "1024", "-i", req.AudioFile)
	}

	if !req.AudioOnly && req.VideoFile != "" {
		args = append(args, "-seekable", "0", "-thread_queue_size", "1024", "-i", req.VideoFile)
		if req.Container != ContainerMKV {
			args = append(args, "-movflags", "faststart")
		}

		if hasThumb {
			args = append(args, "-map", "0", "-map", "1")
			if !req.VideoOnly {
				args = append(args, "-map", "2")
			}
		}
	}

	args = append(args, "-c", "copy")

	if req.Thumbnail != "" {
		if req.Container == ContainerMKV {
			args = append(args,
				"-attach", req.Thumbnail,
				"-metadata:s:t", "filename=cover_land.jpg",
				"-metadata:s:t", "mimetype=image/jpeg",
			)
		} else {
			args = append(args, "-disposition:v:0", "attached_pic")
		}
	}

	if req.AddMeta {
		for k, v := range req.Metadata {
			if v == "" {
				continue
			}
			args = append(args, "-metadata", fmt.Sprintf("%s=%s", strings.ToUpper(k), v))
		}
	}

	args = append(args, outFile)

	return args, outFile
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// execute runs prog with args to completion, forwarding stderr as it
// streams in, matching util.go:Execute's behavior of surfacing ffmpeg's own
// progress/error output directly rather than buffering it.
func execute(prog string, args []string) (int, error) {
	cmd := exec.Command(prog, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}

	log.Debug().Str("cmd", prog+" "+shellescape.QuoteCommand(args)).Msg("running mux command")

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	buf := make([]byte, 2048)
	for {
		n, rerr := stderr.Read(buf)
		os.Stderr.Write(buf[:n])
		if rerr != nil {
			if rerr != io.EOF {
				log.Warn().Err(rerr).Msg("reading ffmpeg stderr failed")
			}
			break
		}
	}

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return cmd.ProcessState.ExitCode(), fmt.Errorf("ffmpeg exited with code %d", exitErr.ExitCode())
		}
		return -1, err
	}

	return 0, nil
}
