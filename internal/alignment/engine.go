// Package alignment turns per-user fragment groups into continuous tracks
// that start and end together, padding with black filler clips.
package alignment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/media"
	"github.com/smpb05/janus-gateway/internal/model"
)

// MinShiftSeconds is the smallest start lag or end shortfall that gets a
// filler. Gaps inside one user's track are filled from one second.
const MinShiftSeconds = 2

// Alignment steps, used in file names and progress.
const (
	StepGap   = "gap"
	StepStart = "start"
	StepEnd   = "end"
)

// ProgressFunc receives the step, the user being processed and the percent
// of the running media operation.
type ProgressFunc func(step, user string, percent int)

// Engine runs the three alignment passes.
type Engine struct {
	exec   media.Executor
	store  *fragment.Store
	logger *slog.Logger
}

// NewEngine creates an alignment engine.
func NewEngine(exec media.Executor, store *fragment.Store, logger *slog.Logger) *Engine {
	return &Engine{exec: exec, store: store, logger: logger.With("component", "alignment")}
}

// GapSeconds is the whole-second hole between the end of a fragment and the
// start of the next one. Start times are microseconds, duration is seconds.
func GapSeconds(curStart int64, curDuration float64, nextStart int64) int {
	end := float64(curStart) + curDuration*1e6
	return int(math.Floor((float64(nextStart) - end) / 1e6))
}

// StartLag is how many whole seconds a track starts after t0.
func StartLag(start, t0 int64) int {
	return int(math.Floor(float64(start-t0) / 1e6))
}

// EndShortfall is how many whole seconds a track is shorter than the longest.
func EndShortfall(longest, duration float64) int {
	return int(math.Floor(longest - duration))
}

// Align fills per-user gaps, then aligns track starts and ends. Groups must
// carry probed metadata. The returned tracks are ordered by start time.
func (e *Engine) Align(ctx context.Context, room string, groups []model.UserFileGroup, progress ProgressFunc) ([]model.Track, error) {
	tracks := make([]model.Track, 0, len(groups))
	for _, group := range groups {
		if len(group.Files) == 0 {
			continue
		}
		track, err := e.fillGaps(ctx, room, group, progress)
		if err != nil {
			return nil, fmt.Errorf("fill gaps for user %s: %w", group.User, err)
		}
		tracks = append(tracks, track)
	}

	if len(tracks) < 2 {
		return tracks, nil
	}

	tracks, err := e.alignStarts(ctx, room, tracks, progress)
	if err != nil {
		return nil, fmt.Errorf("align starts: %w", err)
	}
	tracks, err = e.alignEnds(ctx, room, tracks, progress)
	if err != nil {
		return nil, fmt.Errorf("align ends: %w", err)
	}
	return tracks, nil
}

// fillGaps concatenates one user's fragments, splicing a filler wherever the
// next fragment starts at least a second after the current one ends.
func (e *Engine) fillGaps(ctx context.Context, room string, group model.UserFileGroup, progress ProgressFunc) (model.Track, error) {
	files := append([]model.MediaFile(nil), group.Files...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].StartTime < files[j].StartTime })

	first := files[0]
	if len(files) == 1 {
		return model.Track{MediaFile: first}, nil
	}

	var (
		entries []string
		total   float64
		lastGap int
		filler  string
	)
	for i, f := range files {
		entries = append(entries, e.store.Path(room, f.Filename))
		total += f.Duration
		if i+1 == len(files) {
			break
		}
		gap := GapSeconds(f.StartTime, f.Duration, files[i+1].StartTime)
		if gap <= 0 {
			continue
		}
		name := fragment.FillerName(StepGap, gap, f.Filename)
		path := e.store.Path(room, name)
		if err := e.exec.SynthesizeFiller(ctx, media.FillerRequest{
			Seconds:  gap,
			Width:    f.Width,
			Height:   f.Height,
			Output:   path,
			Progress: e.forward(progress, StepGap, group.User),
		}); err != nil {
			return model.Track{}, err
		}
		e.logger.Info("filler inserted", "room", room, "step", StepGap, "user", group.User, "seconds", gap, "after", f.Filename)
		entries = append(entries, path)
		total += float64(gap)
		lastGap, filler = gap, path
	}

	outName := fragment.FinalName(first.Filename)
	if err := e.concat(ctx, room, StepGap, first.Filename, outName, entries, e.forward(progress, StepGap, group.User)); err != nil {
		return model.Track{}, err
	}

	out := first
	out.Filename = outName
	out.Duration = total
	return model.Track{MediaFile: out, Timeshift: lastGap, Filler: filler}, nil
}

// alignStarts prepends a filler to every track that starts at least
// MinShiftSeconds after the earliest one. The earliest track is untouched.
func (e *Engine) alignStarts(ctx context.Context, room string, tracks []model.Track, progress ProgressFunc) ([]model.Track, error) {
	sort.SliceStable(tracks, func(i, j int) bool { return tracks[i].StartTime < tracks[j].StartTime })
	t0 := tracks[0].StartTime

	out := make([]model.Track, 0, len(tracks))
	out = append(out, tracks[0])
	for _, t := range tracks[1:] {
		lag := StartLag(t.StartTime, t0)
		if lag < MinShiftSeconds {
			out = append(out, t)
			continue
		}

		name := fragment.FillerName(StepStart, lag, t.Filename)
		path := e.store.Path(room, name)
		if err := e.exec.SynthesizeFiller(ctx, media.FillerRequest{
			Seconds:  lag,
			Width:    t.Width,
			Height:   t.Height,
			Output:   path,
			Progress: e.forward(progress, StepStart, t.User),
		}); err != nil {
			return nil, err
		}
		e.logger.Info("filler inserted", "room", room, "step", StepStart, "user", t.User, "seconds", lag)

		outName := fragment.FinalName(t.Filename)
		entries := []string{path, e.store.Path(room, t.Filename)}
		if err := e.concat(ctx, room, StepStart, t.Filename, outName, entries, e.forward(progress, StepStart, t.User)); err != nil {
			return nil, err
		}

		aligned := t
		aligned.Filename = outName
		aligned.StartTime = t0
		aligned.Duration = t.Duration + float64(lag)
		aligned.Timeshift = lag
		aligned.Filler = path
		out = append(out, aligned)
	}
	return out, nil
}

// alignEnds re-probes every track and appends a filler to those ending at
// least MinShiftSeconds before the longest one. The longest is untouched.
func (e *Engine) alignEnds(ctx context.Context, room string, tracks []model.Track, progress ProgressFunc) ([]model.Track, error) {
	longest := -1
	for i := range tracks {
		meta, err := e.exec.Probe(ctx, e.store.Path(room, tracks[i].Filename))
		if err != nil {
			return nil, err
		}
		tracks[i].Metadata = meta
		if longest < 0 || meta.Duration > tracks[longest].Duration {
			longest = i
		}
	}
	maxDuration := tracks[longest].Duration

	out := make([]model.Track, 0, len(tracks))
	for i, t := range tracks {
		if i == longest {
			out = append(out, t)
			continue
		}
		shortfall := EndShortfall(maxDuration, t.Duration)
		if shortfall < MinShiftSeconds {
			out = append(out, t)
			continue
		}

		name := fragment.FillerName(StepEnd, shortfall, t.Filename)
		path := e.store.Path(room, name)
		if err := e.exec.SynthesizeFiller(ctx, media.FillerRequest{
			Seconds:  shortfall,
			Width:    t.Width,
			Height:   t.Height,
			Output:   path,
			Progress: e.forward(progress, StepEnd, t.User),
		}); err != nil {
			return nil, err
		}
		e.logger.Info("filler inserted", "room", room, "step", StepEnd, "user", t.User, "seconds", shortfall)

		outName := fragment.AlignedName(t.Filename)
		entries := []string{e.store.Path(room, t.Filename), path}
		if err := e.concat(ctx, room, StepEnd, t.Filename, outName, entries, e.forward(progress, StepEnd, t.User)); err != nil {
			return nil, err
		}

		aligned := t
		aligned.Filename = outName
		aligned.Duration = t.Duration + float64(shortfall)
		aligned.Timeshift = shortfall
		aligned.Filler = path
		out = append(out, aligned)
	}
	return out, nil
}

func (e *Engine) concat(ctx context.Context, room, step, baseName, outName string, entries []string, progress media.ProgressFunc) error {
	manifest := e.store.Path(room, fragment.ManifestName(step, baseName))
	if err := media.WriteManifest(manifest, entries); err != nil {
		return err
	}
	return e.exec.ConcatList(ctx, media.ConcatRequest{
		Manifest: manifest,
		Output:   e.store.Path(room, outName),
		Progress: progress,
	})
}

func (e *Engine) forward(progress ProgressFunc, step, user string) media.ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(percent int) { progress(step, user, percent) }
}
