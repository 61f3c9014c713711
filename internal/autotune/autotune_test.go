package autotune

import (
	"os"
	"path/filepath"
	"testing"
)

func TestForHardwareTiers(t *testing.T) {
	tests := []struct {
		ram      int
		name     string
		topK     int
		numCtx   int
		firstCan string
	}{
		{4, "low", 3, 1536, "qwen2.5:1.5b"},
		{8, "low", 3, 1536, "qwen2.5:1.5b"},
		{9, "medium", 4, 2048, "qwen2.5:3b"},
		{16, "medium", 4, 2048, "qwen2.5:3b"},
		{24, "balanced", 4, 3072, "mistral:7b"},
		{64, "high", 5, 4096, "mistral:7b"},
	}
	for _, tt := range tests {
		p := ForHardware(tt.ram, 8)
		if p.Name != tt.name || p.TopK != tt.topK || p.NumCtx != tt.numCtx {
			t.Errorf("ForHardware(%d) = %+v", tt.ram, p)
		}
		if p.ModelCandidates[0] != tt.firstCan {
			t.Errorf("ForHardware(%d) first candidate = %s, want %s", tt.ram, p.ModelCandidates[0], tt.firstCan)
		}
	}
}

func TestGenerationThreadsCapped(t *testing.T) {
	if got := ForHardware(32, 64).GenerationThreads(); got != 12 {
		t.Errorf("GenerationThreads() = %d, want 12", got)
	}
	if got := ForHardware(32, 0).GenerationThreads(); got != 1 {
		t.Errorf("GenerationThreads() = %d, want 1", got)
	}
}

func TestDetectRAMFromMeminfo(t *testing.T) {
	dir := t.TempDir()
	meminfo := "MemTotal:       16318480 kB\nMemFree:         1000000 kB\n"
	if err := os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := detectRAMGB(dir); got != 16 {
		t.Errorf("detectRAMGB() = %d, want 16", got)
	}
}

func TestDetectRAMFallsBack(t *testing.T) {
	if got := detectRAMGB(filepath.Join(t.TempDir(), "missing")); got != defaultRAMGB {
		t.Errorf("detectRAMGB() = %d, want %d", got, defaultRAMGB)
	}
}
