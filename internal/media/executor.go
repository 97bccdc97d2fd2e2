// Package media runs the ffmpeg operations of the conversion pipeline and
// reports their progress.
package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/smpb05/janus-gateway/internal/model"
)

// ProgressFunc receives the completion percentage of a running operation.
type ProgressFunc func(percent int)

// Operation names used in logs and StageError.
const (
	OpProbe     = "probe"
	OpMix       = "mix"
	OpTranscode = "transcode"
	OpFiller    = "filler"
	OpConcat    = "concat"
	OpMerge     = "merge"
)

// MixRequest combines an audio and a video fragment without re-encoding.
type MixRequest struct {
	Inputs   [2]string
	Output   string
	Progress ProgressFunc
}

// TranscodeRequest scales a file to Height, keeping the aspect ratio.
type TranscodeRequest struct {
	Input    string
	Output   string
	Height   int
	Progress ProgressFunc
}

// FillerRequest synthesizes black video with silent audio.
type FillerRequest struct {
	Seconds  int
	Width    int
	Height   int
	Output   string
	Progress ProgressFunc
}

// ConcatRequest joins the files listed in a manifest.
type ConcatRequest struct {
	Manifest string
	Output   string
	Progress ProgressFunc
}

// StackRequest places the video of all inputs side by side and merges their
// audio.
type StackRequest struct {
	Inputs   []string
	Output   string
	Progress ProgressFunc
}

// Executor is the set of media operations the pipeline needs.
type Executor interface {
	Probe(ctx context.Context, path string) (model.Metadata, error)
	MixStreamCopy(ctx context.Context, req MixRequest) error
	TranscodeScale(ctx context.Context, req TranscodeRequest) error
	SynthesizeFiller(ctx context.Context, req FillerRequest) error
	ConcatList(ctx context.Context, req ConcatRequest) error
	StackAndMerge(ctx context.Context, req StackRequest) error
}

// StageError is returned when a media operation fails. Diagnostic holds the
// tail of the tool's error output.
type StageError struct {
	Op         string
	Output     string
	Diagnostic string
	Err        error
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.Output)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Diagnostic != "" {
		fmt.Fprintf(&b, ": %s", e.Diagnostic)
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
