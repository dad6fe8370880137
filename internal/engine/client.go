package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"comfyrelay/internal/domain"
	"comfyrelay/internal/infra"
)

// Options configures the engine client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *infra.Logger
	// RequestTimeout bounds upload and submit calls. Artifact downloads are
	// streamed and only bounded by the caller's context.
	RequestTimeout time.Duration
}

// Client talks to a node-graph execution engine over its HTTP API and opens
// event sockets on /ws.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *infra.Logger
	timeout    time.Duration
}

type promptRequest struct {
	Prompt   domain.Template `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// errorResponse covers both {"error": "text"} and the validation shape
// {"error": {"type", "message", "details"}, "node_errors": {...}}.
type errorResponse struct {
	Error      json.RawMessage `json:"error"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("engine: base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("engine: parse base url: %w", err)
	}
	wsURL := *parsed
	switch parsed.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("engine: unsupported scheme %q", parsed.Scheme)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		baseURL:    base,
		wsURL:      wsURL.String(),
		httpClient: httpClient,
		dialer:     dialer,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		timeout:    timeout,
	}, nil
}

// BaseURL returns the engine's HTTP root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadImage forwards an input image to the engine and returns the name the
// engine assigned to it. Existing files with the same name are overwritten.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", errors.New("engine: upload filename is required")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("engine: build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("engine: read upload: %w", err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("engine: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("engine: build upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &body)
	if err != nil {
		return "", fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	var decoded uploadResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("engine: decode upload response: %w", err)
	}
	name := strings.TrimSpace(decoded.Name)
	if name == "" {
		name = filename
	}
	c.logger.Debug().Str("filename", filename).Str("name", name).Msg("engine: uploaded image")
	return name, nil
}

// QueuePrompt submits a bound template for execution on behalf of clientID
// and returns the engine's prompt id. All failures wrap domain.ErrSubmission.
func (c *Client) QueuePrompt(ctx context.Context, tpl domain.Template, clientID string) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: tpl, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("%w: engine: encode prompt: %v", domain.ErrSubmission, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: engine: build request: %v", domain.ErrSubmission, err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSubmission, err)
	}
	var decoded promptResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: engine: decode prompt response: %v", domain.ErrSubmission, err)
	}
	if strings.TrimSpace(decoded.PromptID) == "" {
		return "", fmt.Errorf("%w: engine: response missing prompt_id", domain.ErrSubmission)
	}
	c.logger.Debug().
		Str("session_id", clientID).
		Str("prompt_id", decoded.PromptID).
		Int("queue_number", decoded.Number).
		Msg("engine: prompt queued")
	return decoded.PromptID, nil
}

// View opens a streamed download of an artifact. The caller must close the
// returned body.
func (c *Client) View(ctx context.Context, ref domain.ArtifactRef) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("engine: build view request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: view %s: %w", ref.Filename, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("engine: view %s: status %d", ref.Filename, resp.StatusCode)
	}
	return resp.Body, nil
}

// Dial opens the engine's event socket for clientID.
func (c *Client) Dial(ctx context.Context, clientID string) (*Conn, error) {
	endpoint := c.wsURL + "/ws?" + url.Values{"clientId": {clientID}}.Encode()
	ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: engine: dial event socket: %v (status %d)", domain.ErrTransport, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: engine: dial event socket: %v", domain.ErrTransport, err)
	}
	c.logger.Debug().Str("session_id", clientID).Msg("engine: event socket connected")
	return &Conn{ws: ws}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engine: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if msg := describeError(raw); msg != "" {
			return nil, fmt.Errorf("engine: status %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("engine: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func describeError(raw []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(decoded.Error, &text); err == nil {
		return text
	}
	var detail errorDetail
	if err := json.Unmarshal(decoded.Error, &detail); err != nil {
		return ""
	}
	msg := detail.Message
	if detail.Details != "" {
		msg += ": " + detail.Details
	}
	if detail.Type != "" {
		msg += " (" + detail.Type + ")"
	}
	return msg
}
