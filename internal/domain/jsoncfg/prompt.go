package jsoncfg

import (
	"fmt"
	"strings"

	"comfyrelay/internal/domain"
)

// GenerateRequest is the first frame a client sends on the generate socket.
type GenerateRequest struct {
	Workflow       string   `json:"workflow"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	Seed           *uint64  `json:"seed"`
	Model          *string  `json:"model"`
	Sensitivity    *float64 `json:"sensitivity"`
	InputImage     *string  `json:"input_image"`
}

const (
	// DefaultWidth is used when the request omits the width.
	DefaultWidth = 1024
	// DefaultHeight is used when the request omits the height.
	DefaultHeight = 1024
	// MaxDimension caps either side of the requested canvas.
	MaxDimension = 8192
)

const (
	ExtraInputImage  = "input_image"
	ExtraModel       = "model"
	ExtraSensitivity = "sensitivity"
)

// Normalize applies server defaults to omitted fields.
func (r *GenerateRequest) Normalize() {
	if r == nil {
		return
	}
	r.Workflow = strings.TrimSpace(r.Workflow)
	if r.Width <= 0 {
		r.Width = DefaultWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultHeight
	}
}

// Validate ensures the request satisfies the contract before any template is loaded.
func (r GenerateRequest) Validate() error {
	if r.Workflow == "" {
		return fmt.Errorf("workflow is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		return fmt.Errorf("width and height must not exceed %d", MaxDimension)
	}
	return nil
}

// Params converts the request into the binder's parameter set. Optional
// extras are only present when the client sent them.
func (r GenerateRequest) Params() domain.Params {
	extras := map[string]any{}
	if r.InputImage != nil {
		extras[ExtraInputImage] = *r.InputImage
	}
	if r.Model != nil {
		extras[ExtraModel] = *r.Model
	}
	if r.Sensitivity != nil {
		extras[ExtraSensitivity] = *r.Sensitivity
	}
	width, height := r.Width, r.Height
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return domain.Params{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Width:          uint(width),
		Height:         uint(height),
		Seed:           r.Seed,
		Extras:         extras,
	}
}
