package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"comfyrelay/internal/domain"
	"comfyrelay/internal/infra"
	"comfyrelay/internal/middleware"
	"comfyrelay/internal/storage"
	"comfyrelay/internal/workflow"
)

// Workflows loads and lists graph templates.
type Workflows interface {
	Load(name string) (domain.Template, error)
	List() ([]workflow.Entry, error)
}

// Jobs runs bound templates on the engine.
type Jobs interface {
	Run(ctx context.Context, tpl domain.Template) (domain.Job, <-chan domain.Event, error)
}

// Uploader forwards input images to the engine.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Deps are the collaborators an App serves requests with.
type Deps struct {
	Workflows Workflows
	Jobs      Jobs
	Uploader  Uploader
	Artifacts storage.Store
	Logger    *infra.Logger
}

type App struct {
	Workflows Workflows
	Jobs      Jobs
	Uploader  Uploader
	Artifacts storage.Store
	Config    *infra.Config

	logger   *infra.Logger
	upgrader websocket.Upgrader
}

func NewApp(cfg *infra.Config, deps Deps) *App {
	return &App{
		Workflows: deps.Workflows,
		Jobs:      deps.Jobs,
		Uploader:  deps.Uploader,
		Artifacts: deps.Artifacts,
		Config:    cfg,
		logger:    infra.LoggerOrDiscard(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.NewOrigins(cfg.CORSAllowedOrigins).CheckOrigin,
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: message, Code: code})
}
