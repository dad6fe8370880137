package workflow

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"comfyrelay/internal/domain"
)

const (
	TitlePrompt         = "user_prompt"
	TitleNegativePrompt = "user_negative_prompt"
	TitleSize           = "user_size"
	TitleSeed           = "user_seed"
	TitleInputImage     = "user_input_image"
	TitleRMBGSettings   = "user_rmbg_settings"
)

const (
	// MinSeed and MaxSeed bound generated seeds, inclusive.
	MinSeed uint64 = 1
	MaxSeed uint64 = 100_000_000_000_000
)

// ruleKind selects how a rule's assignments treat the node's existing slots.
type ruleKind int

const (
	// existingSlots sets each assignment whose slot the node already declares.
	existingSlots ruleKind = iota
	// firstExistingSlot sets only the first assignment whose slot exists.
	firstExistingSlot
	// anySlot sets every assignment that has a value, creating slots as needed.
	anySlot
)

type valueFunc func(b *binding) (any, bool)

type assignment struct {
	slot  string
	value valueFunc
}

type rule struct {
	kind        ruleKind
	assignments []assignment
}

func prompt(b *binding) (any, bool)         { return b.params.Prompt, true }
func negativePrompt(b *binding) (any, bool) { return b.params.NegativePrompt, true }
func width(b *binding) (any, bool)          { return b.params.Width, true }
func height(b *binding) (any, bool)         { return b.params.Height, true }
func seed(b *binding) (any, bool)           { return b.seed, true }

func extra(name string) valueFunc {
	return func(b *binding) (any, bool) { return b.params.Extra(name) }
}

var rules = map[string]rule{
	TitlePrompt: {kind: existingSlots, assignments: []assignment{
		{slot: "text", value: prompt},
	}},
	TitleNegativePrompt: {kind: existingSlots, assignments: []assignment{
		{slot: "text", value: negativePrompt},
	}},
	TitleSize: {kind: existingSlots, assignments: []assignment{
		{slot: "width", value: width},
		{slot: "height", value: height},
	}},
	TitleSeed: {kind: firstExistingSlot, assignments: []assignment{
		{slot: "seed", value: seed},
		{slot: "noise_seed", value: seed},
	}},
	TitleInputImage: {kind: existingSlots, assignments: []assignment{
		{slot: "image", value: extra("input_image")},
	}},
	TitleRMBGSettings: {kind: anySlot, assignments: []assignment{
		{slot: "model", value: extra("model")},
		{slot: "sensitivity", value: extra("sensitivity")},
	}},
}

// KnownTitle reports whether the binder has a rule for title.
func KnownTitle(title string) bool {
	_, ok := rules[title]
	return ok
}

type binding struct {
	params domain.Params
	seed   uint64
}

// Bind substitutes params into tpl in place and returns it together with the
// effective seed: the caller's seed when set, otherwise a fresh one in
// [MinSeed, MaxSeed]. Nodes with unknown titles are never touched.
func Bind(tpl domain.Template, params domain.Params) (domain.Template, uint64, error) {
	if tpl == nil {
		return nil, 0, fmt.Errorf("workflow: template is empty: %w", domain.ErrBinding)
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return nil, 0, fmt.Errorf("workflow: prompt is required: %w", domain.ErrBinding)
	}
	if params.Width == 0 || params.Height == 0 {
		return nil, 0, fmt.Errorf("workflow: width and height are required: %w", domain.ErrBinding)
	}

	b := &binding{params: params}
	if params.Seed != nil {
		b.seed = *params.Seed
	} else {
		b.seed = GenerateSeed()
	}

	for _, node := range tpl {
		if node == nil {
			continue
		}
		r, ok := rules[node.Title()]
		if !ok {
			continue
		}
		r.apply(node, b)
	}
	return tpl, b.seed, nil
}

// GenerateSeed draws a seed uniformly from [MinSeed, MaxSeed].
func GenerateSeed() uint64 {
	return MinSeed + rand.Uint64N(MaxSeed-MinSeed+1)
}

func (r rule) apply(node *domain.Node, b *binding) {
	for _, a := range r.assignments {
		if r.kind != anySlot && !node.HasInput(a.slot) {
			continue
		}
		v, ok := a.value(b)
		if !ok {
			continue
		}
		if node.Inputs == nil {
			node.Inputs = make(map[string]any)
		}
		node.Inputs[a.slot] = v
		if r.kind == firstExistingSlot {
			return
		}
	}
}
