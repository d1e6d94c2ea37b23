package manager

import (
	"strconv"
	"strings"

	"llamad/internal/common/fsutil"
	"llamad/pkg/types"
)

// parseArgs splits a custom-argument string into tokens, honoring single and
// double quotes. Quotes group; they are not kept in the token.
func parseArgs(s string) []string {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inTok bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inTok = true
		case r == ' ' || r == '\t':
			if inTok {
				args = append(args, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if inTok {
		args = append(args, cur.String())
	}
	return args
}

// stripPortArgs drops any user-supplied --port flag. The port is always
// assigned by the allocator.
func stripPortArgs(args []string) []string {
	out := args[:0:0]
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		if a == "--port" {
			skip = true
			continue
		}
		if strings.HasPrefix(a, "--port=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// draftFlags are llama-server spellings of the speculative draft model flag.
var draftFlags = map[string]bool{"--model-draft": true, "-md": true}

// pathFlags take a file argument that users commonly give relative to the
// models directory.
var pathFlags = map[string]bool{
	"--model-draft": true,
	"-md":           true,
	"--mmproj":      true,
	"-mm":           true,
}

// resolveModelPaths rewrites relative file arguments to absolute paths under
// modelsDir so custom args work regardless of the daemon's working directory.
func resolveModelPaths(args []string, modelsDir string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if pathFlags[out[i]] {
			out[i+1] = fsutil.ResolveUnder(modelsDir, out[i+1])
			i++
		}
	}
	return out
}

// stripDraftArgs removes speculative-decoding draft flags and their values.
// Used when a failed restart disables the draft model.
func stripDraftArgs(args []string) []string {
	out := args[:0:0]
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		if draftFlags[a] {
			skip = true
			continue
		}
		if strings.HasPrefix(a, "--model-draft=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// joinArgs renders tokens back into a custom-args string, quoting tokens
// that contain whitespace.
func joinArgs(args []string) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if strings.ContainsAny(a, " \t") {
			parts = append(parts, "\""+a+"\"")
		} else {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}

// buildArgs assembles the llama-server command line for a launch config.
func buildArgs(cfg types.LaunchConfig, host string, port int, modelsDir string) []string {
	args := []string{
		"-m", cfg.ModelPath,
		"--host", host,
		"--port", strconv.Itoa(port),
	}
	if cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(cfg.CtxSize))
	}
	if cfg.DraftModelPath != "" {
		args = append(args, "--model-draft", fsutil.ResolveUnder(modelsDir, cfg.DraftModelPath))
	}
	if cfg.CustomArgs != "" {
		extra := parseArgs(cfg.CustomArgs)
		extra = stripPortArgs(extra)
		extra = resolveModelPaths(extra, modelsDir)
		args = append(args, extra...)
	}
	return args
}

// clearDraft returns cfg with every trace of the draft model removed, for
// persisting after draft auto-recovery.
func clearDraft(cfg types.LaunchConfig) types.LaunchConfig {
	out := cfg
	out.DraftModelPath = ""
	if out.CustomArgs != "" {
		out.CustomArgs = joinArgs(stripDraftArgs(parseArgs(out.CustomArgs)))
	}
	return out
}
