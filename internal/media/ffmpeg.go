package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/media/ffprobe"
	"github.com/smpb05/janus-gateway/internal/model"
)

// Filler audio is always 48 kHz stereo so it concatenates with opus tracks.
const (
	fillerSampleRate = 48000
	fillerLayout     = "stereo"
	stderrTailLines  = 20
)

// Options configures the ffmpeg executor.
type Options struct {
	FFmpegPath     string
	FFprobePath    string
	Threads        int
	TargetHeight   int
	CRF            int
	Preset         string
	VideoCodec     string
	AudioCodec     string
	FrameRate      int
	SettleInterval time.Duration
	SettleTimeout  time.Duration
}

// FFmpeg implements Executor with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	opts   Options
	logger *slog.Logger
}

// NewFFmpeg creates an executor. Zero options fall back to the defaults of
// the recorder setup (libx264 crf 21 veryfast, libopus, 24 fps).
func NewFFmpeg(opts Options, logger *slog.Logger) *FFmpeg {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.TargetHeight <= 0 {
		opts.TargetHeight = 240
	}
	if opts.CRF <= 0 {
		opts.CRF = 21
	}
	if opts.Preset == "" {
		opts.Preset = "veryfast"
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = "libx264"
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = "libopus"
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 24
	}
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = 250 * time.Millisecond
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 30 * time.Second
	}
	return &FFmpeg{opts: opts, logger: logger.With("component", "ffmpeg")}
}

// Probe reads duration and dimensions of a media file.
func (f *FFmpeg) Probe(ctx context.Context, path string) (model.Metadata, error) {
	result, err := ffprobe.Inspect(ctx, f.opts.FFprobePath, path)
	if err != nil {
		return model.Metadata{}, &StageError{Op: OpProbe, Output: path, Err: err}
	}
	width, height := result.Dimensions()
	return model.Metadata{
		Duration: result.DurationSeconds(),
		Width:    width,
		Height:   height,
	}, nil
}

// MixStreamCopy puts an audio and a video fragment into one container
// without re-encoding.
func (f *FFmpeg) MixStreamCopy(ctx context.Context, req MixRequest) error {
	args := []string{"-y", "-i", req.Inputs[0], "-i", req.Inputs[1], "-c", "copy"}
	args = append(args, f.threadArgs()...)
	return f.run(ctx, OpMix, req.Output, args, req.Progress)
}

// TranscodeScale re-encodes a file at the requested height.
func (f *FFmpeg) TranscodeScale(ctx context.Context, req TranscodeRequest) error {
	height := req.Height
	if height <= 0 {
		height = f.opts.TargetHeight
	}
	args := []string{
		"-y", "-i", req.Input,
		"-filter:v", fmt.Sprintf("scale=-2:%d", height),
		"-r", strconv.Itoa(f.opts.FrameRate),
	}
	args = append(args, f.encodeArgs()...)
	args = append(args, "-c:a", f.opts.AudioCodec)
	args = append(args, f.threadArgs()...)
	return f.run(ctx, OpTranscode, req.Output, args, req.Progress)
}

// SynthesizeFiller writes black video with silent audio of exactly
// req.Seconds at the requested resolution.
func (f *FFmpeg) SynthesizeFiller(ctx context.Context, req FillerRequest) error {
	if req.Seconds <= 0 {
		return &StageError{Op: OpFiller, Output: req.Output, Err: fmt.Errorf("invalid filler duration %d", req.Seconds)}
	}
	width, height := f.fillerSize(req.Width, req.Height)
	seconds := strconv.Itoa(req.Seconds)
	args := []string{
		"-y",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", width, height, f.opts.FrameRate),
		"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", fillerLayout, fillerSampleRate),
		"-t", seconds,
		"-pix_fmt", "yuv420p",
	}
	args = append(args, f.encodeArgs()...)
	args = append(args, "-c:a", f.opts.AudioCodec, "-ar", strconv.Itoa(fillerSampleRate), "-ac", "2")
	args = append(args, f.threadArgs()...)
	return f.runWithTotal(ctx, OpFiller, req.Output, args, float64(req.Seconds), req.Progress)
}

// ConcatList joins the files of a manifest with the concat demuxer.
func (f *FFmpeg) ConcatList(ctx context.Context, req ConcatRequest) error {
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", req.Manifest, "-c", "copy"}
	args = append(args, f.threadArgs()...)
	return f.run(ctx, OpConcat, req.Output, args, req.Progress)
}

// StackAndMerge lays the inputs out horizontally and merges their audio.
// A single input is re-encoded as is.
func (f *FFmpeg) StackAndMerge(ctx context.Context, req StackRequest) error {
	if len(req.Inputs) == 0 {
		return &StageError{Op: OpMerge, Output: req.Output, Err: errors.New("no inputs")}
	}
	args := []string{"-y"}
	for _, in := range req.Inputs {
		args = append(args, "-i", in)
	}
	if len(req.Inputs) > 1 {
		args = append(args,
			"-filter_complex", StackFilter(len(req.Inputs)),
			"-map", "[v]", "-map", "[a]",
			"-ac", strconv.Itoa(len(req.Inputs)),
		)
	}
	args = append(args, f.encodeArgs()...)
	args = append(args, "-c:a", f.opts.AudioCodec)
	args = append(args, f.threadArgs()...)
	return f.run(ctx, OpMerge, req.Output, args, req.Progress)
}

// StackFilter builds the hstack/amerge filter graph for n inputs.
func StackFilter(n int) string {
	var video, audio strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&video, "[%d:v]", i)
		fmt.Fprintf(&audio, "[%d:a]", i)
	}
	return fmt.Sprintf("%shstack=inputs=%d[v];%samerge=inputs=%d[a]", video.String(), n, audio.String(), n)
}

func (f *FFmpeg) encodeArgs() []string {
	return []string{
		"-c:v", f.opts.VideoCodec,
		"-crf", strconv.Itoa(f.opts.CRF),
		"-preset", f.opts.Preset,
	}
}

func (f *FFmpeg) threadArgs() []string {
	if f.opts.Threads <= 0 {
		return nil
	}
	return []string{"-threads", strconv.Itoa(f.opts.Threads)}
}

func (f *FFmpeg) fillerSize(width, height int) (int, int) {
	if height <= 0 {
		height = f.opts.TargetHeight
	}
	if width <= 0 {
		width = height * 4 / 3
	}
	// yuv420p needs even dimensions
	return width &^ 1, height &^ 1
}

func (f *FFmpeg) run(ctx context.Context, op, output string, args []string, progress ProgressFunc) error {
	return f.runWithTotal(ctx, op, output, args, 0, progress)
}

// runWithTotal executes ffmpeg and blocks until the process exited and the
// output file stopped growing. ffmpeg writes to a hidden sibling of output
// that is renamed into place only on success, so a failed or cancelled run
// never leaves a partial output behind. total is the expected output
// duration in seconds; when zero it is taken from the Duration lines ffmpeg
// prints.
func (f *FFmpeg) runWithTotal(ctx context.Context, op, output string, args []string, total float64, progress ProgressFunc) error {
	logger := f.logger.With("op", op, "output", output)
	part := PartPath(output)
	args = append(args[:len(args):len(args)], part)
	logger.Info("ffmpeg started", "command", f.opts.FFmpegPath+" "+strings.Join(args, " "))
	started := time.Now()

	fail := func(err error) error {
		if rmErr := os.Remove(part); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("failed to remove partial output", "path", part, "error", rmErr)
		}
		return err
	}

	cmd := exec.CommandContext(ctx, f.opts.FFmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &StageError{Op: op, Output: output, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return &StageError{Op: op, Output: output, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	tail := ParseProgress(stderr, total, progress)

	if err := cmd.Wait(); err != nil {
		diag := strings.Join(tail, "\n")
		logger.Error("ffmpeg failed", "error", err, "stderr", diag)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fail(&StageError{Op: op, Output: output, Diagnostic: diag, Err: err})
	}

	if err := WaitStable(ctx, part, f.opts.SettleInterval, f.opts.SettleTimeout); err != nil {
		logger.Error("ffmpeg output not ready", "error", err)
		return fail(&StageError{Op: op, Output: output, Err: err})
	}
	if err := os.Rename(part, output); err != nil {
		return fail(&StageError{Op: op, Output: output, Err: fmt.Errorf("move output into place: %w", err)})
	}

	if progress != nil {
		progress(100)
	}
	logger.Info("ffmpeg finished", "duration", time.Since(started).Round(time.Millisecond).String())
	return nil
}

// PartPath is the name ffmpeg writes to before output is complete. It keeps
// the extension so ffmpeg still picks the right muxer.
func PartPath(output string) string {
	return filepath.Join(filepath.Dir(output), fragment.PartPrefix+filepath.Base(output))
}

var (
	durationRe = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

// ParseProgress reads ffmpeg stderr until EOF, reporting percentages to
// progress when they change, and returns the last lines for diagnostics.
func ParseProgress(r io.Reader, total float64, progress ProgressFunc) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanFFmpegLines)

	var tail []string
	last := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}

		if m := durationRe.FindStringSubmatch(line); m != nil {
			if d := clockSeconds(m[1], m[2], m[3]); d > total {
				total = d
			}
			continue
		}
		m := timeRe.FindStringSubmatch(line)
		if m == nil || progress == nil || total <= 0 {
			continue
		}
		pct := int(clockSeconds(m[1], m[2], m[3]) * 100 / total)
		if pct > 100 {
			pct = 100
		}
		if pct != last {
			last = pct
			progress(pct)
		}
	}
	// Drain so ffmpeg never blocks on a full pipe after a scanner error.
	_, _ = io.Copy(io.Discard, r)
	return tail
}

func clockSeconds(h, m, s string) float64 {
	hours, _ := strconv.Atoi(h)
	mins, _ := strconv.Atoi(m)
	secs, _ := strconv.ParseFloat(s, 64)
	return float64(hours*3600+mins*60) + secs
}

// scanFFmpegLines splits on \n and on the bare \r ffmpeg uses to redraw its
// status line.
func scanFFmpegLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
