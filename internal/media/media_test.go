package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/smpb05/janus-gateway/internal/config"
	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/logging"
)

func TestParseProgress(t *testing.T) {
	stderr := "Input #0, matroska,webm\n  Duration: 00:00:20.00, start: 0.000000\n" +
		"frame=  1 time=00:00:05.00 bitrate=1k\r" +
		"frame=  2 time=00:00:05.01 bitrate=1k\r" +
		"frame=  3 time=00:00:10.00 bitrate=1k\r" +
		"frame=  4 time=00:00:30.00 bitrate=1k\n"

	var got []int
	tail := ParseProgress(strings.NewReader(stderr), 0, func(p int) { got = append(got, p) })

	want := []int{25, 50, 100}
	if len(got) != len(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress = %v, want %v", got, want)
		}
	}
	if len(tail) != 6 || !strings.Contains(tail[5], "time=00:00:30.00") {
		t.Fatalf("unexpected tail: %q", tail)
	}
}

func TestParseProgressKeepsTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("line\n")
	}
	b.WriteString("fatal: Invalid data found\n")
	tail := ParseProgress(strings.NewReader(b.String()), 10, nil)
	if len(tail) != stderrTailLines {
		t.Fatalf("expected %d lines, got %d", stderrTailLines, len(tail))
	}
	if tail[len(tail)-1] != "fatal: Invalid data found" {
		t.Fatalf("unexpected last line %q", tail[len(tail)-1])
	}
}

func TestStackFilter(t *testing.T) {
	got := StackFilter(3)
	want := "[0:v][1:v][2:v]hstack=inputs=3[v];[0:a][1:a][2:a]amerge=inputs=3[a]"
	if got != want {
		t.Fatalf("StackFilter = %q, want %q", got, want)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos-gap-x.txt")
	files := []string{"/rec/42/a.mkv", "/rec/42/it's.mkv"}
	if err := WriteManifest(path, files); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "file '/rec/42/a.mkv'\n") {
		t.Fatalf("unexpected manifest: %q", data)
	}
	got, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(got) != 2 || got[0] != files[0] || got[1] != files[1] {
		t.Fatalf("ReadManifest = %q", got)
	}
}

func TestWaitStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mkv")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WaitStable(context.Background(), path, 5*time.Millisecond, time.Second); err != nil {
		t.Fatalf("WaitStable: %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.mkv")
	err := WaitStable(context.Background(), missing, 5*time.Millisecond, 30*time.Millisecond)
	if !errors.Is(err, ErrOutputNotStable) {
		t.Fatalf("expected ErrOutputNotStable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := WaitStable(ctx, missing, time.Second, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := error(&StageError{Op: OpMix, Output: "/rec/7/mixed-x.webm", Diagnostic: "Invalid data", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("StageError should unwrap to its cause")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Op != OpMix {
		t.Fatal("errors.As failed")
	}
	msg := err.Error()
	if !strings.Contains(msg, "mix") || !strings.Contains(msg, "Invalid data") {
		t.Fatalf("unexpected message %q", msg)
	}
}

// fakeBinary writes a shell script standing in for ffmpeg. It copies its
// arguments into the last argument (the output path).
func fakeBinary(t *testing.T, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
for last; do :; done
echo "  Duration: 00:00:10.00, start: 0.000000" 1>&2
printf 'frame=1 time=00:00:05.00 bitrate=1k\r' 1>&2
if [ ` + strconv.Itoa(exitCode) + ` -ne 0 ]; then
  echo "Invalid data found when processing input" 1>&2
  exit ` + strconv.Itoa(exitCode) + `
fi
echo "$@" > "$last"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestFFmpeg(binary string) *FFmpeg {
	return NewFFmpeg(Options{
		FFmpegPath:     binary,
		Threads:        2,
		SettleInterval: 5 * time.Millisecond,
		SettleTimeout:  time.Second,
	}, logging.Discard())
}

func TestFFmpegTranscodeArgs(t *testing.T) {
	f := newTestFFmpeg(fakeBinary(t, 0))
	out := filepath.Join(t.TempDir(), "converted-mixed-a.webm.mkv")

	var progress []int
	err := f.TranscodeScale(context.Background(), TranscodeRequest{
		Input:    "/rec/mixed-a.webm",
		Output:   out,
		Height:   240,
		Progress: func(p int) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("TranscodeScale: %v", err)
	}
	data, _ := os.ReadFile(out)
	args := string(data)
	for _, want := range []string{"scale=-2:240", "-c:v libx264", "-crf 21", "-preset veryfast", "-threads 2", "-c:a libopus"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if len(progress) != 2 || progress[0] != 50 || progress[1] != 100 {
		t.Errorf("unexpected progress %v", progress)
	}
}

func TestFFmpegFillerAndMergeArgs(t *testing.T) {
	f := newTestFFmpeg(fakeBinary(t, 0))
	dir := t.TempDir()

	filler := filepath.Join(dir, "black-gap-t5-x.mkv")
	if err := f.SynthesizeFiller(context.Background(), FillerRequest{Seconds: 5, Width: 321, Height: 240, Output: filler}); err != nil {
		t.Fatalf("SynthesizeFiller: %v", err)
	}
	data, _ := os.ReadFile(filler)
	for _, want := range []string{"color=c=black:s=320x240:r=24", "anullsrc=channel_layout=stereo:sample_rate=48000", "-t 5"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("filler args %q missing %q", data, want)
		}
	}

	merged := filepath.Join(dir, "42.mkv")
	if err := f.StackAndMerge(context.Background(), StackRequest{Inputs: []string{"a.mkv", "b.mkv"}, Output: merged}); err != nil {
		t.Fatalf("StackAndMerge: %v", err)
	}
	data, _ = os.ReadFile(merged)
	for _, want := range []string{"-i a.mkv -i b.mkv", "hstack=inputs=2", "amerge=inputs=2", "-ac 2"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("merge args %q missing %q", data, want)
		}
	}

	single := filepath.Join(dir, "1.mkv")
	if err := f.StackAndMerge(context.Background(), StackRequest{Inputs: []string{"a.mkv"}, Output: single}); err != nil {
		t.Fatalf("StackAndMerge single: %v", err)
	}
	data, _ = os.ReadFile(single)
	if strings.Contains(string(data), "filter_complex") {
		t.Errorf("single input should not use a filter graph: %q", data)
	}

	if err := f.StackAndMerge(context.Background(), StackRequest{Output: single}); err == nil {
		t.Error("expected error for zero inputs")
	}
}

func TestFFmpegFailure(t *testing.T) {
	f := newTestFFmpeg(fakeBinary(t, 1))
	out := filepath.Join(t.TempDir(), "mixed-x.webm")

	err := f.MixStreamCopy(context.Background(), MixRequest{Inputs: [2]string{"a.opus", "b.webm"}, Output: out})
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if se.Op != OpMix || !strings.Contains(se.Diagnostic, "Invalid data") {
		t.Fatalf("unexpected stage error: %+v", se)
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Fatal("failed run should not leave an output")
	}
}

// writingBinary stands in for an ffmpeg that has already written part of its
// output when it stops: with "fail" it exits 1, with "hang" it waits to be
// killed.
func writingBinary(t *testing.T, mode string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
for last; do :; done
echo partial > "$last"
echo "Conversion failed!" 1>&2
if [ "` + mode + `" = hang ]; then
  exec sleep 30
fi
exit 1
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFmpegFailureRemovesPartialOutput(t *testing.T) {
	base := t.TempDir()
	room := filepath.Join(base, "42")
	if err := os.Mkdir(room, 0o755); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(room, "42.mkv")
	store := fragment.NewStore(base)

	f := newTestFFmpeg(writingBinary(t, "fail"))
	err := f.StackAndMerge(context.Background(), StackRequest{Inputs: []string{"a.mkv", "b.mkv"}, Output: out})
	if err == nil {
		t.Fatal("expected merge to fail")
	}
	for _, path := range []string{out, PartPath(out)} {
		if _, statErr := os.Stat(path); statErr == nil {
			t.Errorf("%s left behind after failure", path)
		}
	}
	if ok, err := store.HasArtifact("42"); err != nil || ok {
		t.Errorf("HasArtifact = %v, %v; want false", ok, err)
	}
}

func TestFFmpegCancelRemovesPartialOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "42.mkv")
	f := newTestFFmpeg(writingBinary(t, "hang"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// give the script time to write before it is killed
		for i := 0; i < 200; i++ {
			if _, err := os.Stat(PartPath(out)); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	err := f.StackAndMerge(ctx, StackRequest{Inputs: []string{"a.mkv"}, Output: out})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, path := range []string{out, PartPath(out)} {
		if _, statErr := os.Stat(path); statErr == nil {
			t.Errorf("%s left behind after cancel", path)
		}
	}
}

func TestPartPath(t *testing.T) {
	if got := PartPath("/rec/42/42.mkv"); got != "/rec/42/.part-42.mkv" {
		t.Errorf("PartPath = %q", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.MediaConfig{
		FFmpegPath:     "/opt/ffmpeg",
		FFprobePath:    "/opt/ffprobe",
		Threads:        4,
		TargetHeight:   360,
		CRF:            23,
		Preset:         "fast",
		VideoCodec:     "libx265",
		AudioCodec:     "aac",
		FrameRate:      30,
		SettleInterval: time.Second,
		SettleTimeout:  time.Minute,
	}
	want := Options{
		FFmpegPath:     "/opt/ffmpeg",
		FFprobePath:    "/opt/ffprobe",
		Threads:        4,
		TargetHeight:   360,
		CRF:            23,
		Preset:         "fast",
		VideoCodec:     "libx265",
		AudioCodec:     "aac",
		FrameRate:      30,
		SettleInterval: time.Second,
		SettleTimeout:  time.Minute,
	}
	if got := OptionsFromConfig(&cfg); got != want {
		t.Errorf("OptionsFromConfig = %+v, want %+v", got, want)
	}
}
