package relay

import (
	"context"
	"errors"

	"comfyrelay/internal/domain"
	"comfyrelay/internal/engine"
	"comfyrelay/internal/infra"
)

// stream is the state of one job's event loop. It is owned by a single
// goroutine.
type stream struct {
	relay  *Relay
	conn   *engine.Conn
	job    domain.Job
	out    chan<- domain.Event
	logger infra.Logger
}

func (s *stream) run(ctx context.Context) {
	if !s.emit(ctx, domain.StatusEvent(domain.StatusMessageQueued, s.job.PromptID)) {
		return
	}
	for {
		msg, err := s.conn.Next(s.relay.idleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("relay: consumer gone, stream closed")
				return
			}
			s.fail(ctx, err)
			return
		}
		done, err := s.handle(ctx, msg)
		if err != nil {
			s.fail(ctx, err)
			return
		}
		if done || ctx.Err() != nil {
			return
		}
	}
}

// handle processes one engine message and reports whether the job reached a
// terminal state.
func (s *stream) handle(ctx context.Context, msg engine.Message) (bool, error) {
	switch msg.Type {
	case engine.TypeExecuting:
		ev, err := engine.DecodeExecuting(msg)
		if err != nil {
			return false, err
		}
		if ev.PromptID != s.job.PromptID {
			return false, nil
		}
		if ev.Done {
			s.transition(domain.JobStatusCompleted)
			s.emit(ctx, domain.StatusEvent(domain.StatusMessageCompleted, ""))
			return true, nil
		}
		s.transition(domain.JobStatusRunning)
		s.emit(ctx, domain.ProgressEvent(ev.Node))
		return false, nil

	case engine.TypeExecuted:
		ev, err := engine.DecodeExecuted(msg)
		if err != nil {
			return false, err
		}
		if ev.PromptID != s.job.PromptID || len(ev.Images) == 0 {
			return false, nil
		}
		files := make([]string, 0, len(ev.Images))
		for _, ref := range ev.Images {
			if local := s.relay.fetcher.Fetch(ctx, s.job.SessionID, ref); local != "" {
				files = append(files, local)
			}
		}
		if len(files) < len(ev.Images) {
			s.logger.Warn().
				Str("node", ev.Node).
				Int("listed", len(ev.Images)).
				Int("fetched", len(files)).
				Msg("relay: some artifacts could not be fetched")
		}
		s.emit(ctx, domain.ImagesEvent(files))
		return false, nil

	case engine.TypeExecutionError, engine.TypeExecutionInterrupted:
		ev, err := engine.DecodeExecutionError(msg)
		if err != nil {
			return false, err
		}
		if ev.PromptID != s.job.PromptID {
			return false, nil
		}
		s.transition(domain.JobStatusFailed)
		s.logger.Warn().Str("node", ev.Node).Str("exception", ev.Exception).Msg("relay: engine reported failure")
		s.emit(ctx, domain.ErrorEvent(ev.Message()))
		return true, nil

	default:
		return false, nil
	}
}

func (s *stream) fail(ctx context.Context, err error) {
	s.transition(domain.JobStatusFailed)
	if errors.Is(err, engine.ErrProtocol) {
		s.logger.Error().Err(err).Msg("relay: malformed engine event")
	} else {
		s.logger.Error().Err(err).Msg("relay: event stream failed")
	}
	s.emit(ctx, domain.ErrorEvent(err.Error()))
}

func (s *stream) transition(next domain.JobStatus) {
	if s.job.Status == next || s.job.Status.Terminal() {
		return
	}
	s.logger.Debug().Str("from", string(s.job.Status)).Str("to", string(next)).Msg("relay: job status")
	s.job.Status = next
}

// finish logs the status the job ended in. A non-terminal status here means
// the consumer went away first.
func (s *stream) finish(ctx context.Context) {
	s.logger.Info().
		Str("status", string(s.job.Status)).
		Bool("canceled", !s.job.Status.Terminal() && ctx.Err() != nil).
		Msg("relay: job finished")
}

// emit delivers ev unless the consumer has gone away.
func (s *stream) emit(ctx context.Context, ev domain.Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
