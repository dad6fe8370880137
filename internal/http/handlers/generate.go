package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"comfyrelay/internal/domain"
	"comfyrelay/internal/domain/jsoncfg"
	"comfyrelay/internal/middleware"
	"comfyrelay/internal/workflow"
)

const (
	setupFailedPrefix = "Setup failed: "
	maxRequestFrame   = 64 << 10
	writeWait         = 10 * time.Second
)

// Generate serves one job over a websocket. The first client frame is the
// generate request; the server answers with the effective seed, then relays
// job events until the job ends or the client goes away.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("generate: upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestFrame)

	log := a.logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var req jsoncfg.GenerateRequest
	if err := conn.ReadJSON(&req); err != nil {
		a.sendSetupFailure(conn, fmt.Errorf("%w: invalid request: %v", domain.ErrBinding, err))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		a.sendSetupFailure(conn, fmt.Errorf("%w: %v", domain.ErrBinding, err))
		return
	}

	tpl, err := a.Workflows.Load(req.Workflow)
	if err != nil {
		log.Warn().Err(err).Str("workflow", req.Workflow).Msg("generate: load workflow failed")
		a.sendSetupFailure(conn, err)
		return
	}
	if !hasBindableNode(tpl) {
		log.Warn().Str("workflow", req.Workflow).Msg("generate: workflow has no bindable nodes, submitting as is")
	}
	bound, seed, err := workflow.Bind(tpl, req.Params())
	if err != nil {
		a.sendSetupFailure(conn, err)
		return
	}
	if err := writeEvent(conn, domain.InfoEvent(seed)); err != nil {
		return
	}

	job, events, err := a.Jobs.Run(ctx, bound)
	if err != nil {
		log.Error().Err(err).Str("workflow", req.Workflow).Msg("generate: job setup failed")
		a.sendSetupFailure(conn, err)
		return
	}
	log = log.With().Str("session_id", job.SessionID).Str("prompt_id", job.PromptID).Logger()
	log.Info().Str("workflow", req.Workflow).Uint64("seed", seed).Msg("generate: job started")

	// Reading is the only way to notice the client closing the socket.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	clientGone, terminal := false, false
	for ev := range events {
		if clientGone {
			continue
		}
		if err := writeEvent(conn, ev); err != nil {
			log.Info().Err(err).Msg("generate: client disconnected")
			clientGone = true
			cancel()
			continue
		}
		terminal = terminal || ev.Terminal()
	}
	if !clientGone {
		closeNormally(conn)
	}
	log.Info().Bool("terminal", terminal).Bool("client_gone", clientGone).Msg("generate: job stream finished")
}

// hasBindableNode reports whether any node in tpl carries a title Bind acts on.
func hasBindableNode(tpl domain.Template) bool {
	for _, node := range tpl {
		if workflow.KnownTitle(node.Title()) {
			return true
		}
	}
	return false
}

// sendSetupFailure reports err to the client and closes the socket. Caller
// and engine rejections log at info; anything else is a relay or transport
// fault and logs at warn.
func (a *App) sendSetupFailure(conn *websocket.Conn, err error) {
	setup := domain.IsSetupFailure(err)
	entry := a.logger.Warn()
	if setup {
		entry = a.logger.Info()
	}
	entry.Err(err).
		Bool("setup_failure", setup).
		Bool("engine_reachable", !errors.Is(err, domain.ErrTransport)).
		Msg("generate: setup failed")
	if writeEvent(conn, domain.ErrorEvent(setupFailedPrefix+err.Error())) == nil {
		closeNormally(conn)
	}
}

func writeEvent(conn *websocket.Conn, ev domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
