package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.yaml", "addr: :9090\nmodels_dir: /tmp/models\nbase_port: 8600\nreserved_ports: [8080, 8081]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.ModelsDir != "/tmp/models" || cfg.BasePort != 8600 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.ReservedPorts) != 2 || cfg.ReservedPorts[0] != 8080 {
		t.Fatalf("reserved ports: %v", cfg.ReservedPorts)
	}
}

func TestLoadJSONAndTOML(t *testing.T) {
	dir := t.TempDir()
	pj := writeFile(t, dir, "cfg.json", `{"addr":":1","llama_bin":"/opt/llama/llama-server"}`)
	cfg, err := Load(pj)
	if err != nil {
		t.Fatalf("json load: %v", err)
	}
	if cfg.LlamaBin != "/opt/llama/llama-server" {
		t.Fatalf("llama_bin=%q", cfg.LlamaBin)
	}
	pt := writeFile(t, dir, "cfg.toml", "addr = \":2\"\nctx_size = 4096\n")
	cfg, err = Load(pt)
	if err != nil {
		t.Fatalf("toml load: %v", err)
	}
	if cfg.CtxSize != 4096 {
		t.Fatalf("ctx_size=%d", cfg.CtxSize)
	}
}

func TestLoadRejectsUnknownExtensionAndBadValues(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cfg.ini", "addr=:1")
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	p = writeFile(t, dir, "bad.yaml", "base_port: 99999\n")
	if _, err := Load(p); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAutostartDefault(t *testing.T) {
	var cfg Config
	if !cfg.AutostartEnabled() {
		t.Fatal("autostart should default to enabled")
	}
	off := false
	cfg.Autostart = &off
	if cfg.AutostartEnabled() {
		t.Fatal("autostart=false should disable")
	}
}
