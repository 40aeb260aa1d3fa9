package store

import (
	"testing"
)

// --- route Tests ---

func TestRoute_FallbacksFilled(t *testing.T) {
	c := Config{Models: []ModelRoute{
		{Pattern: "A", Read: "r"},
		{Pattern: "B", Write: "w"},
		{Pattern: "C"},
	}}
	c.validate()

	cases := map[string][2]string{
		"A": {"r", "r"},
		"B": {"w", "w"},
		"C": {DefaultConnection, DefaultConnection},
		"D": {DefaultConnection, DefaultConnection},
	}
	for entity, want := range cases {
		read, write := c.route(entity)
		if read != want[0] || write != want[1] {
			t.Errorf("%s: expected %s/%s, got %s/%s", entity, want[0], want[1], read, write)
		}
	}
}

func TestRoute_PatternsInOrder(t *testing.T) {
	c := Config{Models: []ModelRoute{
		{Pattern: "Post*", Read: "first"},
		{Pattern: "*Tag", Read: "second"},
	}}
	c.validate()

	if read, _ := c.route("PostTag"); read != "first" {
		t.Errorf("expected first pattern to win, got %q", read)
	}
	if read, _ := c.route("UserTag"); read != "second" {
		t.Errorf("expected 'second', got %q", read)
	}
}

func TestPatternRegexp_QuotesMeta(t *testing.T) {
	re := patternRegexp("a.b*")
	if !re.MatchString("a.bc") {
		t.Error("expected a.bc to match")
	}
	if re.MatchString("axbc") {
		t.Error("expected '.' to be literal")
	}
}

// --- mergeChains Tests ---

func TestMergeChains_Deep(t *testing.T) {
	base := map[string]any{
		"tags":  map[string]any{"model": "PostTag", "identity": "post_tag"},
		"other": "kept",
	}
	override := map[string]any{
		"tags": map[string]any{"identity": "tag_id"},
		"new":  1,
	}

	got := mergeChains(base, override)
	tags := got["tags"].(map[string]any)
	if tags["model"] != "PostTag" || tags["identity"] != "tag_id" {
		t.Errorf("unexpected merged tags %v", tags)
	}
	if got["other"] != "kept" || got["new"] != 1 {
		t.Errorf("unexpected merged map %v", got)
	}
	if base["tags"].(map[string]any)["identity"] != "post_tag" {
		t.Error("expected base to be left unmodified")
	}
}

func TestMergeChains_OverrideReplacesScalar(t *testing.T) {
	got := mergeChains(map[string]any{"tags": "x"}, map[string]any{"tags": map[string]any{"a": 1}})
	if _, ok := got["tags"].(map[string]any); !ok {
		t.Errorf("expected map to replace scalar, got %v", got["tags"])
	}
}

func TestMergeChains_Nil(t *testing.T) {
	if got := mergeChains(nil, nil); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestConfigValidate_DoesNotMutateCallerModels(t *testing.T) {
	models := []ModelRoute{{Pattern: "User", Read: "replica"}}
	cfg := Config{Models: models}
	cfg.validate()

	if models[0].Write != "" {
		t.Errorf("expected caller's route untouched, got write %q", models[0].Write)
	}
	if cfg.Models[0].Write != "replica" {
		t.Errorf("expected write to fall back to 'replica', got %q", cfg.Models[0].Write)
	}
}
