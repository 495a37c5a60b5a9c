// Package orchestrator drives a submitted job through the external
// transcription pipeline: cache check by content fingerprint, speech-to-text
// with provider fallback, optional correction and speaker identification,
// then the cache and durable-store writes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/openscribe/openscribe/internal/cache"
	"github.com/openscribe/openscribe/internal/fingerprint"
	"github.com/openscribe/openscribe/internal/jobs"
	"github.com/openscribe/openscribe/internal/persistence"
	"github.com/openscribe/openscribe/internal/transcribe"
	"github.com/openscribe/openscribe/pkg/log"
)

// Coarse progress milestones. Consumers must tolerate skipped updates and
// only treat done/failed as authoritative.
const (
	progressAccepted       = 10
	progressTranscribing   = 25
	progressPostProcessing = 70
	progressTerminal       = 100
)

const defaultJobTimeout = 10 * time.Minute

// auxiliary cache/persistence writes run on their own deadline so a job
// timeout does not also kill them
const auxWriteTimeout = 30 * time.Second

// Gateway is the durable side of the done path. The persistence store
// satisfies this.
type Gateway interface {
	SaveTranscription(ctx context.Context, tr *persistence.Transcription) (*persistence.Transcription, error)
}

// Request describes one submitted upload. JobID is already session-scoped.
type Request struct {
	JobID            string
	SessionID        string
	UserID           string
	FileName         string
	Language         string
	Audio            []byte
	Correct          bool
	IdentifySpeakers bool
}

type Orchestrator struct {
	store   *jobs.Store
	cache   cache.Cache
	engine  transcribe.Engine
	gateway Gateway
	timeout time.Duration

	group singleflight.Group
	wg    sync.WaitGroup
}

func New(store *jobs.Store, c cache.Cache, engine transcribe.Engine, gateway Gateway, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &Orchestrator{
		store:   store,
		cache:   c,
		engine:  engine,
		gateway: gateway,
		timeout: timeout,
	}
}

// Submit registers a queued job and starts its pipeline asynchronously. The
// returned snapshot reflects the job at creation time; callers poll the job
// store for completion.
func (o *Orchestrator) Submit(req Request) (*jobs.Job, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("audio content is empty")
	}

	fp := fingerprint.SumBytes(req.Audio)
	job := &jobs.Job{
		ID:          req.JobID,
		SessionID:   req.SessionID,
		FileName:    req.FileName,
		Fingerprint: fp,
		Status:      jobs.StatusQueued,
	}
	if err := o.store.Create(job); err != nil {
		return nil, err
	}

	snapshot, _ := o.store.Get(req.JobID)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(req, fp)
	}()

	return snapshot, nil
}

// Wait blocks until all in-flight jobs have reached a terminal state. Used
// during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// outcome is the computed (or cached) pipeline result before it is bound to
// a specific user and job.
type outcome struct {
	raw        string
	corrected  string
	identified string
	language   string
	provider   string
	fromCache  bool
}

func (o *Orchestrator) run(req Request, fp string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	o.update(req.JobID, jobs.StatusProcessing, jobs.StatusUpdate{Progress: intPtr(progressAccepted)})

	cached, hit, err := o.cache.Lookup(ctx, fp)
	if err != nil {
		log.Warn("Cache lookup for fingerprint %s failed: %v", fp, err)
	}
	if hit {
		log.Info("Job %s: cache hit for fingerprint %s", req.JobID, fp)
		o.finish(req, fp, &outcome{
			raw:        cached.RawText,
			corrected:  cached.CorrectedText,
			identified: cached.IdentifiedText,
			language:   cached.Language,
			fromCache:  true,
		})
		return
	}

	o.update(req.JobID, jobs.StatusProcessing, jobs.StatusUpdate{Progress: intPtr(progressTranscribing)})

	// Concurrent jobs over identical content and options share one engine
	// invocation. The cache key stays the bare fingerprint; options only
	// widen the flight key.
	flightKey := fmt.Sprintf("%s|c=%t|s=%t", fp, req.Correct, req.IdentifySpeakers)
	v, err, _ := o.group.Do(flightKey, func() (any, error) {
		return o.pipeline(ctx, req)
	})
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("transcription timed out after %s", o.timeout)
		}
		log.Error("Job %s failed: %v", req.JobID, err)
		o.update(req.JobID, jobs.StatusFailed, jobs.StatusUpdate{
			Progress: intPtr(progressTerminal),
			Error:    msg,
		})
		return
	}

	o.update(req.JobID, jobs.StatusProcessing, jobs.StatusUpdate{Progress: intPtr(progressPostProcessing)})
	o.finish(req, fp, v.(*outcome))
}

func (o *Orchestrator) pipeline(ctx context.Context, req Request) (*outcome, error) {
	res, err := o.engine.Transcribe(ctx, req.Audio, transcribe.Options{
		Language: normalizeLanguage(req.Language),
		FileName: req.FileName,
	})
	if err != nil {
		return nil, err
	}

	out := &outcome{raw: res.Text, language: res.Language, provider: res.Provider}
	if req.Correct {
		corrected, err := o.engine.Correct(ctx, res.Text)
		if err != nil {
			return nil, fmt.Errorf("correction failed: %w", err)
		}
		out.corrected = corrected
	}
	if req.IdentifySpeakers {
		base := out.corrected
		if base == "" {
			base = out.raw
		}
		identified, err := o.engine.IdentifySpeakers(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("speaker identification failed: %w", err)
		}
		out.identified = identified
	}
	return out, nil
}

// finish marks the job done and performs the auxiliary writes. The job
// outcome is never blocked on cache or durable-store failures; those are
// logged and surfaced as a soft warning on the job.
func (o *Orchestrator) finish(req Request, fp string, out *outcome) {
	tr := &persistence.Transcription{
		ID:             uuid.NewString(),
		JobID:          req.JobID,
		UserID:         req.UserID,
		FileName:       req.FileName,
		RawText:        out.raw,
		CorrectedText:  out.corrected,
		IdentifiedText: out.identified,
		Fingerprint:    fp,
		Language:       out.language,
		CreatedAt:      time.Now().UTC(),
	}

	o.update(req.JobID, jobs.StatusDone, jobs.StatusUpdate{
		Progress: intPtr(progressTerminal),
		Result:   tr,
	})

	wctx, cancel := context.WithTimeout(context.Background(), auxWriteTimeout)
	defer cancel()

	warnings := make([]string, 0, 2)
	if !out.fromCache {
		if err := o.cache.Store(wctx, fp, tr); err != nil {
			log.Warn("Job %s: cache write for fingerprint %s failed: %v", req.JobID, fp, err)
			warnings = append(warnings, "result cache write failed")
		}
	}
	if o.gateway != nil {
		if _, err := o.gateway.SaveTranscription(wctx, tr); err != nil {
			log.Warn("Job %s: durable transcription write failed: %v", req.JobID, err)
			warnings = append(warnings, "durable transcription write failed")
		}
	}
	if len(warnings) > 0 {
		o.update(req.JobID, jobs.StatusDone, jobs.StatusUpdate{Warning: strings.Join(warnings, "; ")})
	}
}

func (o *Orchestrator) update(id string, status jobs.Status, upd jobs.StatusUpdate) {
	if err := o.store.UpdateStatus(id, status, upd); err != nil {
		log.Error("Failed to update job %s to %s: %v", id, status, err)
	}
}

// normalizeLanguage reduces a caller-supplied tag like "en-US" to the bare
// ISO 639-1 code speech models expect. Unparseable hints are dropped rather
// than rejected.
func normalizeLanguage(hint string) string {
	if hint == "" {
		return ""
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

func intPtr(v int) *int { return &v }
