package artifact

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"comfyrelay/internal/domain"
	"comfyrelay/internal/infra"
	"comfyrelay/internal/storage"
)

// Source streams artifact bytes from the engine.
type Source interface {
	View(ctx context.Context, ref domain.ArtifactRef) (io.ReadCloser, error)
}

// Options configures a Fetcher.
type Options struct {
	Source Source
	Store  storage.Store
	Logger *infra.Logger
}

// Fetcher downloads engine artifacts into a store. Artifacts are namespaced
// by session so concurrent jobs producing the same filename do not collide.
type Fetcher struct {
	source Source
	store  storage.Store
	logger *infra.Logger
}

func NewFetcher(opts Options) *Fetcher {
	return &Fetcher{
		source: opts.Source,
		store:  opts.Store,
		logger: infra.LoggerOrDiscard(opts.Logger),
	}
}

// LocalKey is the store key for ref within sessionID. The engine assigned
// filename is kept verbatim apart from dropping directory components.
func LocalKey(sessionID string, ref domain.ArtifactRef) string {
	name := path.Base(strings.ReplaceAll(ref.Filename, "\\", "/"))
	return storage.JoinKey(sessionID, name)
}

// Fetch downloads ref and returns its local reference, or "" when the
// download failed. Failures are logged and never abort the caller.
func (f *Fetcher) Fetch(ctx context.Context, sessionID string, ref domain.ArtifactRef) string {
	key, err := f.fetch(ctx, sessionID, ref)
	if err != nil {
		f.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("filename", ref.Filename).
			Str("subfolder", ref.Subfolder).
			Str("type", ref.Type).
			Msg("artifact: fetch failed")
		return ""
	}
	f.logger.Debug().Str("session_id", sessionID).Str("key", key).Msg("artifact: stored")
	return key
}

func (f *Fetcher) fetch(ctx context.Context, sessionID string, ref domain.ArtifactRef) (string, error) {
	if f.source == nil || f.store == nil {
		return "", fmt.Errorf("%w: fetcher not configured", domain.ErrArtifactFetch)
	}
	if ref.Filename == "" {
		return "", fmt.Errorf("%w: empty filename", domain.ErrArtifactFetch)
	}
	body, err := f.source.View(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrArtifactFetch, err)
	}
	defer body.Close()
	key, err := f.store.Write(ctx, LocalKey(sessionID, ref), body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrArtifactFetch, err)
	}
	return key, nil
}
