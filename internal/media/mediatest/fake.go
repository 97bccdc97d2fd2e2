// Package mediatest provides an in-process media.Executor that simulates
// ffmpeg by writing placeholder outputs and tracking their metadata.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/smpb05/janus-gateway/internal/media"
	"github.com/smpb05/janus-gateway/internal/model"
)

// Call records one executor invocation.
type Call struct {
	Op     string
	Inputs []string
	Output string
	// Seconds is set for filler calls.
	Seconds int
}

// Fake implements media.Executor. Metadata for input files is seeded with
// Set; outputs get metadata derived from their inputs.
type Fake struct {
	mu    sync.Mutex
	meta  map[string]model.Metadata
	calls []Call

	// FailFunc, when set, is consulted before each operation; a non-nil
	// error aborts it.
	FailFunc func(op, output string) error
}

var _ media.Executor = (*Fake)(nil)

// New creates an empty fake.
func New() *Fake {
	return &Fake{meta: make(map[string]model.Metadata)}
}

// Set seeds the metadata of a file.
func (f *Fake) Set(path string, m model.Metadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[path] = m
}

// Meta returns the tracked metadata of a file.
func (f *Fake) Meta(path string) (model.Metadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[path]
	return m, ok
}

// Calls returns every recorded invocation, optionally filtered by op.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Total returns the number of invocations excluding probes.
func (f *Fake) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op != media.OpProbe {
			n++
		}
	}
	return n
}

func (f *Fake) begin(c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	fail := f.FailFunc
	f.mu.Unlock()
	if fail != nil {
		if err := fail(c.Op, c.Output); err != nil {
			return &media.StageError{Op: c.Op, Output: c.Output, Diagnostic: "simulated failure", Err: err}
		}
	}
	return nil
}

func (f *Fake) finish(output string, m model.Metadata, progress media.ProgressFunc) error {
	if err := os.WriteFile(output, []byte("media"), 0o644); err != nil {
		return &media.StageError{Op: "write", Output: output, Err: err}
	}
	f.Set(output, m)
	if progress != nil {
		progress(50)
		progress(100)
	}
	return nil
}

func (f *Fake) lookup(op, path string) (model.Metadata, error) {
	m, ok := f.Meta(path)
	if !ok {
		return model.Metadata{}, &media.StageError{Op: op, Output: path, Err: errors.New("no such media")}
	}
	return m, nil
}

// Probe returns the tracked metadata of path.
func (f *Fake) Probe(ctx context.Context, path string) (model.Metadata, error) {
	if err := f.begin(Call{Op: media.OpProbe, Inputs: []string{path}}); err != nil {
		return model.Metadata{}, err
	}
	return f.lookup(media.OpProbe, path)
}

// MixStreamCopy keeps the dimensions of the video input and the longer
// duration.
func (f *Fake) MixStreamCopy(ctx context.Context, req media.MixRequest) error {
	if err := f.begin(Call{Op: media.OpMix, Inputs: req.Inputs[:], Output: req.Output}); err != nil {
		return err
	}
	var out model.Metadata
	for _, in := range req.Inputs {
		m, err := f.lookup(media.OpMix, in)
		if err != nil {
			return err
		}
		if m.Height > 0 {
			out.Width, out.Height = m.Width, m.Height
		}
		if m.Duration > out.Duration {
			out.Duration = m.Duration
		}
	}
	return f.finish(req.Output, out, req.Progress)
}

// TranscodeScale scales dimensions to req.Height.
func (f *Fake) TranscodeScale(ctx context.Context, req media.TranscodeRequest) error {
	if err := f.begin(Call{Op: media.OpTranscode, Inputs: []string{req.Input}, Output: req.Output}); err != nil {
		return err
	}
	m, err := f.lookup(media.OpTranscode, req.Input)
	if err != nil {
		return err
	}
	if m.Height > 0 && req.Height > 0 {
		m.Width = (m.Width * req.Height / m.Height) &^ 1
		m.Height = req.Height
	}
	return f.finish(req.Output, m, req.Progress)
}

// SynthesizeFiller produces a clip of exactly req.Seconds.
func (f *Fake) SynthesizeFiller(ctx context.Context, req media.FillerRequest) error {
	if err := f.begin(Call{Op: media.OpFiller, Output: req.Output, Seconds: req.Seconds}); err != nil {
		return err
	}
	if req.Seconds <= 0 {
		return &media.StageError{Op: media.OpFiller, Output: req.Output, Err: fmt.Errorf("invalid filler duration %d", req.Seconds)}
	}
	return f.finish(req.Output, model.Metadata{Duration: float64(req.Seconds), Width: req.Width, Height: req.Height}, req.Progress)
}

// ConcatList sums the durations of the manifest entries.
func (f *Fake) ConcatList(ctx context.Context, req media.ConcatRequest) error {
	files, err := media.ReadManifest(req.Manifest)
	if err != nil {
		return &media.StageError{Op: media.OpConcat, Output: req.Output, Err: err}
	}
	if err := f.begin(Call{Op: media.OpConcat, Inputs: files, Output: req.Output}); err != nil {
		return err
	}
	var out model.Metadata
	for _, in := range files {
		m, err := f.lookup(media.OpConcat, in)
		if err != nil {
			return err
		}
		if out.Height == 0 {
			out.Width, out.Height = m.Width, m.Height
		}
		out.Duration += m.Duration
	}
	return f.finish(req.Output, out, req.Progress)
}

// StackAndMerge places inputs side by side.
func (f *Fake) StackAndMerge(ctx context.Context, req media.StackRequest) error {
	if err := f.begin(Call{Op: media.OpMerge, Inputs: append([]string(nil), req.Inputs...), Output: req.Output}); err != nil {
		return err
	}
	if len(req.Inputs) == 0 {
		return &media.StageError{Op: media.OpMerge, Output: req.Output, Err: errors.New("no inputs")}
	}
	var out model.Metadata
	for _, in := range req.Inputs {
		m, err := f.lookup(media.OpMerge, in)
		if err != nil {
			return err
		}
		out.Width += m.Width
		if m.Height > out.Height {
			out.Height = m.Height
		}
		if m.Duration > out.Duration {
			out.Duration = m.Duration
		}
	}
	return f.finish(req.Output, out, req.Progress)
}
