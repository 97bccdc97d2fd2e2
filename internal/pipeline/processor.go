// Package pipeline turns the raw fragments of a room into one composite
// recording: ingest, mix, transcode, align, merge, publish and clean up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/smpb05/janus-gateway/internal/alignment"
	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/ingest"
	"github.com/smpb05/janus-gateway/internal/media"
	"github.com/smpb05/janus-gateway/internal/model"
)

const lockRetryDelay = 500 * time.Millisecond

// ErrNothingToMix is returned when a room has no audio/video pair.
var ErrNothingToMix = errors.New("no fragment pairs to mix")

// Stage names, as they appear in progress strings.
const (
	StageIngest    = "convert-mjr"
	StageMix       = "mixing"
	StageTranscode = "convert-mkv"
	StageAlign     = "align"
	StageMerge     = "merge"
	StagePublish   = "publish"
	StageCleanup   = "cleanup"
)

// Publisher uploads a finished artifact and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, room, path string) (string, error)
}

// Options configures a Processor.
type Options struct {
	// TargetHeight is the height fragments are scaled to before stacking.
	TargetHeight int
	// Publisher is optional.
	Publisher Publisher
}

// Processor runs the conversion stages for one job at a time.
type Processor struct {
	store     *fragment.Store
	exec      media.Executor
	ingester  ingest.Ingester
	aligner   *alignment.Engine
	publisher Publisher
	height    int
	logger    *slog.Logger
}

// NewProcessor wires the pipeline.
func NewProcessor(store *fragment.Store, exec media.Executor, ingester ingest.Ingester, opts Options, logger *slog.Logger) *Processor {
	if ingester == nil {
		ingester = ingest.Nop{}
	}
	if opts.TargetHeight <= 0 {
		opts.TargetHeight = 240
	}
	return &Processor{
		store:     store,
		exec:      exec,
		ingester:  ingester,
		aligner:   alignment.NewEngine(exec, store, logger),
		publisher: opts.Publisher,
		height:    opts.TargetHeight,
		logger:    logger.With("component", "pipeline"),
	}
}

// run is the state handed from stage to stage.
type run struct {
	job    *model.Job
	room   string
	report func(progress string)
	logger *slog.Logger

	mixed     []model.Fragment
	converted []model.MediaFile
	tracks    []model.Track
	url       string
}

func (r *run) progress(parts ...string) {
	if r.report == nil {
		return
	}
	r.report(strings.Join(append([]string{r.job.ID, r.room}, parts...), ":"))
}

// stage is one step of the pipeline. Failures of a best-effort stage are
// logged and do not fail the job.
type stage struct {
	name       string
	run        func(ctx context.Context, r *run) error
	bestEffort bool
}

func (p *Processor) stages() []stage {
	return []stage{
		{name: StageIngest, run: p.ingest, bestEffort: true},
		{name: StageMix, run: p.mix},
		{name: StageTranscode, run: p.transcode},
		{name: StageAlign, run: p.align},
		{name: StageMerge, run: p.merge},
		{name: StagePublish, run: p.publish, bestEffort: true},
		{name: StageCleanup, run: p.cleanup, bestEffort: true},
	}
}

// Process converts the job's room. The returned artifact is the room
// relative name of the composite.
func (p *Processor) Process(ctx context.Context, job *model.Job, report func(progress string)) (*model.JobResult, error) {
	room := job.Room()
	artifact := fragment.ArtifactName(room)
	logger := p.logger.With("job_id", job.ID, "room", room)

	if _, err := p.store.HasArtifact(room); err != nil {
		return nil, err
	}

	lock := flock.New(p.lockPath(room))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock room: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock room: %w", ctx.Err())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release room lock", "error", err)
		}
	}()

	// another worker may have finished the room while we waited
	done, err := p.store.HasArtifact(room)
	if err != nil {
		return nil, err
	}
	if done {
		logger.Info("artifact already exists", "artifact", artifact)
		if report != nil {
			report(artifact)
		}
		return model.Completed(artifact, ""), nil
	}

	r := &run{job: job, room: room, report: report, logger: logger}
	for _, s := range p.stages() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		started := time.Now()
		r.progress(s.name)
		logger.Info("stage started", "stage", s.name)

		if err := s.run(ctx, r); err != nil {
			if s.bestEffort {
				logger.Warn("stage failed", "stage", s.name, "error", err)
				continue
			}
			logger.Error("stage failed", "stage", s.name, "error", err)
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		logger.Info("stage finished", "stage", s.name, "duration", time.Since(started).Round(time.Millisecond).String())
	}

	if report != nil {
		report(artifact)
	}
	return model.Completed(artifact, r.url), nil
}

// lockPath lives next to the room directory so listings of the room do not
// see it.
func (p *Processor) lockPath(room string) string {
	return filepath.Join(p.store.BaseDir(), "."+room+".lock")
}

func (p *Processor) ingest(ctx context.Context, r *run) error {
	return p.ingester.Ingest(ctx, r.room)
}

func (p *Processor) mix(ctx context.Context, r *run) error {
	originals, err := p.store.List(r.room, fragment.KindOriginal)
	if err != nil {
		return err
	}
	pairs, unpaired := fragment.PairForMixing(originals)
	for _, f := range unpaired {
		r.logger.Warn("unpaired fragment skipped", "user", f.User, "file", f.Filename, "type", string(f.Type))
	}
	if len(pairs) == 0 {
		return ErrNothingToMix
	}

	for _, pair := range pairs {
		name := fragment.MixedName(pair)
		err := p.exec.MixStreamCopy(ctx, media.MixRequest{
			Inputs: [2]string{p.store.Path(r.room, pair.A.Filename), p.store.Path(r.room, pair.B.Filename)},
			Output: p.store.Path(r.room, name),
			Progress: func(pct int) {
				r.progress(StageMix, pair.User, strconv.Itoa(pct))
			},
		})
		if err != nil {
			return err
		}
		mixed := pair.Video()
		mixed.Filename = name
		r.mixed = append(r.mixed, mixed)
	}
	return nil
}

func (p *Processor) transcode(ctx context.Context, r *run) error {
	for _, f := range r.mixed {
		name := fragment.ConvertedName(f.Filename)
		path := p.store.Path(r.room, name)
		err := p.exec.TranscodeScale(ctx, media.TranscodeRequest{
			Input:  p.store.Path(r.room, f.Filename),
			Output: path,
			Height: p.height,
			Progress: func(pct int) {
				r.progress(StageTranscode, f.User, strconv.Itoa(pct))
			},
		})
		if err != nil {
			return err
		}
		meta, err := p.exec.Probe(ctx, path)
		if err != nil {
			return err
		}
		converted := f
		converted.Filename = name
		r.converted = append(r.converted, model.MediaFile{Fragment: converted, Metadata: meta})
	}
	return nil
}

func (p *Processor) align(ctx context.Context, r *run) error {
	groups := fragment.GroupByUser(r.converted)
	tracks, err := p.aligner.Align(ctx, r.room, groups, func(step, user string, pct int) {
		r.progress(StageAlign, step, user, strconv.Itoa(pct))
	})
	if err != nil {
		return err
	}
	r.tracks = tracks
	return nil
}

func (p *Processor) merge(ctx context.Context, r *run) error {
	inputs := make([]string, 0, len(r.tracks))
	for _, t := range r.tracks {
		inputs = append(inputs, p.store.Path(r.room, t.Filename))
	}
	return p.exec.StackAndMerge(ctx, media.StackRequest{
		Inputs: inputs,
		Output: p.store.Path(r.room, fragment.ArtifactName(r.room)),
		Progress: func(pct int) {
			r.progress(StageMerge, strconv.Itoa(pct))
		},
	})
}

func (p *Processor) publish(ctx context.Context, r *run) error {
	if p.publisher == nil {
		return nil
	}
	url, err := p.publisher.Publish(ctx, r.room, p.store.Path(r.room, fragment.ArtifactName(r.room)))
	if err != nil {
		return err
	}
	r.url = url
	r.logger.Info("artifact published", "url", url)
	return nil
}

func (p *Processor) cleanup(ctx context.Context, r *run) error {
	files, err := p.store.DeletionCandidates(r.room)
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		if err := p.store.Remove(r.room, f.Filename); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("intermediate files removed", "count", len(files)-len(errs))
	return errors.Join(errs...)
}
