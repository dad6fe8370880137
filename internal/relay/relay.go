// Package relay submits bound templates to the engine and turns the engine's
// event socket into the client facing event vocabulary.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"comfyrelay/internal/domain"
	"comfyrelay/internal/engine"
	"comfyrelay/internal/infra"
)

// Engine is the subset of the engine client the relay needs.
type Engine interface {
	QueuePrompt(ctx context.Context, tpl domain.Template, clientID string) (string, error)
	Dial(ctx context.Context, clientID string) (*engine.Conn, error)
}

// Fetcher persists one artifact and returns its local reference, or "" on failure.
type Fetcher interface {
	Fetch(ctx context.Context, sessionID string, ref domain.ArtifactRef) string
}

// Options configures a Relay.
type Options struct {
	Engine  Engine
	Fetcher Fetcher
	Logger  *infra.Logger
	// IdleTimeout fails a stream when the engine sends nothing for that
	// long. Zero disables it.
	IdleTimeout time.Duration
}

// Relay runs jobs. It holds no per-job state, so one Relay serves any number
// of concurrent jobs.
type Relay struct {
	engine      Engine
	fetcher     Fetcher
	logger      *infra.Logger
	idleTimeout time.Duration
}

func New(opts Options) (*Relay, error) {
	if opts.Engine == nil {
		return nil, errors.New("relay: engine is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("relay: fetcher is required")
	}
	return &Relay{
		engine:      opts.Engine,
		fetcher:     opts.Fetcher,
		logger:      infra.LoggerOrDiscard(opts.Logger),
		idleTimeout: opts.IdleTimeout,
	}, nil
}

// NewSessionID returns a fresh client id for one job.
func NewSessionID() string {
	return uuid.NewString()
}

// Open connects the event socket for sessionID. It must happen before Submit
// so no early engine message is missed.
func (r *Relay) Open(ctx context.Context, sessionID string) (*engine.Conn, error) {
	return r.engine.Dial(ctx, sessionID)
}

// Submit queues tpl on the engine and returns the prompt id. Errors wrap
// domain.ErrSubmission and mean the job never started.
func (r *Relay) Submit(ctx context.Context, tpl domain.Template, sessionID string) (string, error) {
	promptID, err := r.engine.QueuePrompt(ctx, tpl, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrSubmission) {
			err = fmt.Errorf("%w: %v", domain.ErrSubmission, err)
		}
		return "", err
	}
	return promptID, nil
}

// Run opens the event socket, submits tpl and streams the job. A non-nil
// error means the job never started and nothing needs cleaning up.
//
// The returned Job is a snapshot taken at submission and stays queued. The
// final status is carried by the terminal event and logged as "relay: job
// finished" when the stream closes.
func (r *Relay) Run(ctx context.Context, tpl domain.Template) (domain.Job, <-chan domain.Event, error) {
	job := domain.Job{SessionID: NewSessionID(), Status: domain.JobStatusQueued}
	log := r.logger.With().Str("session_id", job.SessionID).Logger()

	conn, err := r.Open(ctx, job.SessionID)
	if err != nil {
		log.Error().Err(err).Msg("relay: open event socket failed")
		return domain.Job{}, nil, err
	}
	promptID, err := r.Submit(ctx, tpl, job.SessionID)
	if err != nil {
		conn.Close()
		log.Error().Err(err).Msg("relay: submit failed")
		return domain.Job{}, nil, err
	}
	job.PromptID = promptID
	log.Info().Str("prompt_id", promptID).Msg("relay: job queued")
	return job, r.Stream(ctx, conn, job), nil
}

// Stream relays conn's events for job until a terminal event, a transport
// failure, or ctx cancellation. The first event is always status "queued".
// The channel is closed when streaming ends and conn is closed with it.
func (r *Relay) Stream(ctx context.Context, conn *engine.Conn, job domain.Job) <-chan domain.Event {
	out := make(chan domain.Event)
	go func() {
		defer close(out)
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		s := &stream{
			relay:  r,
			conn:   conn,
			job:    job,
			out:    out,
			logger: r.logger.With().Str("session_id", job.SessionID).Str("prompt_id", job.PromptID).Logger(),
		}
		s.run(ctx)
		s.finish(ctx)
	}()
	return out
}
