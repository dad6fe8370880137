package workflow

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"comfyrelay/internal/domain"
)

func node(title string, inputs map[string]any) *domain.Node {
	return &domain.Node{Inputs: inputs, Meta: &domain.NodeMeta{Title: title}}
}

func fullTemplate() domain.Template {
	return domain.Template{
		"1":  node(TitlePrompt, map[string]any{"text": "", "clip": []any{"4", 1}}),
		"2":  node(TitleNegativePrompt, map[string]any{"text": ""}),
		"3":  node(TitleSize, map[string]any{"width": 512, "height": 512, "batch_size": 1}),
		"4":  node(TitleSeed, map[string]any{"seed": 0, "steps": 20}),
		"5":  node(TitleInputImage, map[string]any{"image": "example.png"}),
		"6":  node(TitleRMBGSettings, map[string]any{"model": "RMBG-1.4"}),
		"7":  node("Save Image", map[string]any{"filename_prefix": "ComfyUI"}),
		"8":  {Inputs: map[string]any{"text": "untitled"}},
		"9":  nil,
		"10": node(TitleSize, map[string]any{"width": 256}),
	}
}

func seedPtr(v uint64) *uint64 { return &v }

func baseParams() domain.Params {
	return domain.Params{
		Prompt:         "a cat in a hat",
		NegativePrompt: "blurry",
		Width:          1024,
		Height:         768,
		Seed:           seedPtr(42),
		Extras: map[string]any{
			"input_image": "upload_01.png",
			"model":       "RMBG-2.0",
			"sensitivity": 0.8,
		},
	}
}

func TestBindAppliesKnownTitles(t *testing.T) {
	tpl, seed, err := Bind(fullTemplate(), baseParams())
	require.NoError(t, err)
	require.Equal(t, uint64(42), seed)

	require.Equal(t, "a cat in a hat", tpl["1"].Inputs["text"])
	require.Equal(t, []any{"4", 1}, tpl["1"].Inputs["clip"])
	require.Equal(t, "blurry", tpl["2"].Inputs["text"])
	require.Equal(t, uint(1024), tpl["3"].Inputs["width"])
	require.Equal(t, uint(768), tpl["3"].Inputs["height"])
	require.Equal(t, 1, tpl["3"].Inputs["batch_size"])
	require.Equal(t, uint64(42), tpl["4"].Inputs["seed"])
	require.Equal(t, "upload_01.png", tpl["5"].Inputs["image"])
	require.Equal(t, "RMBG-2.0", tpl["6"].Inputs["model"])
	require.Equal(t, 0.8, tpl["6"].Inputs["sensitivity"])
}

func TestBindSizeSlotsAreIndependent(t *testing.T) {
	tpl, _, err := Bind(fullTemplate(), baseParams())
	require.NoError(t, err)
	require.Equal(t, map[string]any{"width": uint(1024)}, tpl["10"].Inputs)
}

func TestBindLeavesUnknownTitlesUntouched(t *testing.T) {
	before := fullTemplate()
	wantSave, err := json.Marshal(before["7"].Inputs)
	require.NoError(t, err)
	wantUntitled, err := json.Marshal(before["8"].Inputs)
	require.NoError(t, err)

	tpl, _, err := Bind(before, baseParams())
	require.NoError(t, err)

	gotSave, _ := json.Marshal(tpl["7"].Inputs)
	gotUntitled, _ := json.Marshal(tpl["8"].Inputs)
	require.Equal(t, string(wantSave), string(gotSave))
	require.Equal(t, string(wantUntitled), string(gotUntitled))
}

func TestBindIsIdempotentWithCallerSeed(t *testing.T) {
	once, seed1, err := Bind(fullTemplate(), baseParams())
	require.NoError(t, err)
	onceSnapshot, _ := json.Marshal(once)

	twice, seed2, err := Bind(once, baseParams())
	require.NoError(t, err)
	twiceSnapshot, _ := json.Marshal(twice)

	require.Equal(t, seed1, seed2)
	require.Empty(t, cmp.Diff(string(onceSnapshot), string(twiceSnapshot)), "rebinding changed template (-once +twice)")
}

func TestBindGeneratesSeedInRange(t *testing.T) {
	params := baseParams()
	params.Seed = nil

	seen := make(map[uint64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tpl, seed, err := Bind(fullTemplate(), params)
		require.NoError(t, err)
		require.GreaterOrEqual(t, seed, MinSeed)
		require.LessOrEqual(t, seed, MaxSeed)
		require.Equal(t, seed, tpl["4"].Inputs["seed"])
		seen[seed] = struct{}{}
	}
	require.Len(t, seen, 1000)
}

func TestBindSeedFallsBackToNoiseSeed(t *testing.T) {
	tpl := domain.Template{
		"1": node(TitleSeed, map[string]any{"noise_seed": 0, "cfg": 7}),
		"2": node("sampler", map[string]any{"seed": 5}),
	}
	bound, seed, err := Bind(tpl, baseParams())
	require.NoError(t, err)
	require.Equal(t, uint64(42), seed)
	require.Equal(t, uint64(42), bound["1"].Inputs["noise_seed"])
	require.NotContains(t, bound["1"].Inputs, "seed")
	require.Equal(t, 5, bound["2"].Inputs["seed"])
}

func TestBindSeedPrefersSeedSlot(t *testing.T) {
	tpl := domain.Template{"1": node(TitleSeed, map[string]any{"seed": 0, "noise_seed": 0})}
	bound, _, err := Bind(tpl, baseParams())
	require.NoError(t, err)
	require.Equal(t, uint64(42), bound["1"].Inputs["seed"])
	require.Equal(t, 0, bound["1"].Inputs["noise_seed"])
}

func TestBindSkipsMissingSlotsAndExtras(t *testing.T) {
	tpl := domain.Template{
		"1": node(TitlePrompt, map[string]any{"clip": "x"}),
		"2": node(TitleInputImage, map[string]any{"image": "keep.png"}),
		"3": node(TitleRMBGSettings, nil),
		"4": node(TitleSeed, map[string]any{"steps": 4}),
	}
	params := baseParams()
	params.Extras = map[string]any{"input_image": nil}

	bound, _, err := Bind(tpl, params)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"clip": "x"}, bound["1"].Inputs)
	require.Equal(t, "keep.png", bound["2"].Inputs["image"])
	require.Empty(t, bound["3"].Inputs)
	require.Equal(t, map[string]any{"steps": 4}, bound["4"].Inputs)
}

func TestBindRMBGSettingsCreatesSlots(t *testing.T) {
	tpl := domain.Template{"1": node(TitleRMBGSettings, nil)}
	params := baseParams()
	params.Extras = map[string]any{"sensitivity": 0.5}

	bound, _, err := Bind(tpl, params)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sensitivity": 0.5}, bound["1"].Inputs)
}

func TestBindRequiredFields(t *testing.T) {
	tests := map[string]func(p *domain.Params){
		"missing prompt": func(p *domain.Params) { p.Prompt = "  " },
		"missing width":  func(p *domain.Params) { p.Width = 0 },
		"missing height": func(p *domain.Params) { p.Height = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			params := baseParams()
			mutate(&params)
			_, _, err := Bind(fullTemplate(), params)
			require.ErrorIs(t, err, domain.ErrBinding)
		})
	}

	_, _, err := Bind(nil, baseParams())
	require.ErrorIs(t, err, domain.ErrBinding)
}

func TestKnownTitle(t *testing.T) {
	require.True(t, KnownTitle(TitleSeed))
	require.False(t, KnownTitle("KSampler"))
}
