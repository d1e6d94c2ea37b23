package manager

import (
	"reflect"
	"testing"

	"llamad/pkg/types"
)

func TestParseArgs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"--flash-attn", []string{"--flash-attn"}},
		{"-ngl 99 --no-mmap", []string{"-ngl", "99", "--no-mmap"}},
		{`--override "a b c" -x 'd e'`, []string{"--override", "a b c", "-x", "d e"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{`--empty ""`, []string{"--empty", ""}},
	}
	for _, tc := range cases {
		got := parseArgs(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseArgs(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestStripPortArgs(t *testing.T) {
	in := []string{"-ngl", "99", "--port", "9999", "--port=1234", "--flash-attn"}
	want := []string{"-ngl", "99", "--flash-attn"}
	if got := stripPortArgs(in); !reflect.DeepEqual(got, want) {
		t.Errorf("stripPortArgs = %v, want %v", got, want)
	}
}

func TestResolveModelPaths(t *testing.T) {
	in := []string{"--model-draft", "draft.gguf", "-mm", "/abs/proj.gguf", "--mmproj", "sub/mm.gguf", "-ngl", "99"}
	got := resolveModelPaths(in, "/models")
	want := []string{"--model-draft", "/models/draft.gguf", "-mm", "/abs/proj.gguf", "--mmproj", "/models/sub/mm.gguf", "-ngl", "99"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("resolveModelPaths = %v, want %v", got, want)
	}
	if in[1] != "draft.gguf" {
		t.Error("input slice was mutated")
	}
}

func TestStripDraftArgs(t *testing.T) {
	in := []string{"-md", "draft.gguf", "--model-draft", "d2.gguf", "--model-draft=d3.gguf", "-c", "4096"}
	want := []string{"-c", "4096"}
	if got := stripDraftArgs(in); !reflect.DeepEqual(got, want) {
		t.Errorf("stripDraftArgs = %v, want %v", got, want)
	}
}

func TestClearDraft(t *testing.T) {
	cfg := types.LaunchConfig{
		ModelPath:      "/models/main.gguf",
		DraftModelPath: "/models/draft.gguf",
		CustomArgs:     "-md extra-draft.gguf --flash-attn",
		CtxSize:        8192,
	}
	out := clearDraft(cfg)
	if out.DraftModelPath != "" {
		t.Errorf("DraftModelPath not cleared: %q", out.DraftModelPath)
	}
	if out.CustomArgs != "--flash-attn" {
		t.Errorf("CustomArgs = %q, want %q", out.CustomArgs, "--flash-attn")
	}
	if out.ModelPath != cfg.ModelPath || out.CtxSize != cfg.CtxSize {
		t.Error("unrelated fields changed")
	}
	if cfg.DraftModelPath == "" {
		t.Error("input config was mutated")
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := types.LaunchConfig{
		ModelPath:      "/models/main.gguf",
		DraftModelPath: "draft.gguf",
		CustomArgs:     "--port 999 -ngl 99 --mmproj proj.gguf",
		CtxSize:        4096,
	}
	got := buildArgs(cfg, "127.0.0.1", 8600, "/models")
	want := []string{
		"-m", "/models/main.gguf",
		"--host", "127.0.0.1",
		"--port", "8600",
		"-c", "4096",
		"--model-draft", "/models/draft.gguf",
		"-ngl", "99",
		"--mmproj", "/models/proj.gguf",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs = %v, want %v", got, want)
	}
}

func TestJoinArgsQuotesWhitespace(t *testing.T) {
	got := joinArgs([]string{"--override", "a b", "-x"})
	if got != `--override "a b" -x` {
		t.Errorf("joinArgs = %q", got)
	}
}
