// Package autotune picks model candidates and generation parameters from the
// host's memory and CPU count. The result only seeds configuration defaults;
// explicit settings always win.
package autotune

import (
	"log/slog"
	"math"
	"runtime"

	"github.com/prometheus/procfs"
)

const defaultRAMGB = 8

// Profile is a hardware tier with its generation defaults.
type Profile struct {
	Name            string   `json:"name"`
	RAMGB           int      `json:"ram_gb"`
	CPUThreads      int      `json:"cpu_threads"`
	ModelCandidates []string `json:"model_candidates"`
	NumCtx          int      `json:"num_ctx"`
	NumPredict      int      `json:"num_predict"`
	TopK            int      `json:"top_k"`
}

// Detect reads the host memory from procfs and the CPU count from the runtime.
func Detect() Profile {
	return ForHardware(detectRAMGB(procfs.DefaultMountPoint), runtime.NumCPU())
}

// ForHardware returns the tier matching ramGB.
func ForHardware(ramGB, cpuThreads int) Profile {
	if ramGB < 1 {
		ramGB = 1
	}
	if cpuThreads < 1 {
		cpuThreads = 1
	}
	p := Profile{RAMGB: ramGB, CPUThreads: cpuThreads}
	switch {
	case ramGB <= 8:
		p.Name = "low"
		p.ModelCandidates = []string{"qwen2.5:1.5b", "qwen2.5:3b"}
		p.NumCtx, p.NumPredict, p.TopK = 1536, 320, 3
	case ramGB <= 16:
		p.Name = "medium"
		p.ModelCandidates = []string{"qwen2.5:3b", "llama3.2:3b", "mistral:7b"}
		p.NumCtx, p.NumPredict, p.TopK = 2048, 384, 4
	case ramGB <= 24:
		p.Name = "balanced"
		p.ModelCandidates = []string{"mistral:7b", "llama3.1:8b", "qwen2.5:7b"}
		p.NumCtx, p.NumPredict, p.TopK = 3072, 512, 4
	default:
		p.Name = "high"
		p.ModelCandidates = []string{"mistral:7b", "qwen2.5:7b", "llama3.1:8b"}
		p.NumCtx, p.NumPredict, p.TopK = 4096, 640, 5
	}
	return p
}

// GenerationThreads caps the thread count handed to the model runtime.
func (p Profile) GenerationThreads() int {
	return min(p.CPUThreads, 12)
}

func detectRAMGB(mountPoint string) int {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		slog.Debug("procfs unavailable, assuming default memory", "error", err)
		return defaultRAMGB
	}
	info, err := fs.Meminfo()
	if err != nil || info.MemTotal == nil {
		slog.Debug("meminfo unreadable, assuming default memory", "error", err)
		return defaultRAMGB
	}
	// MemTotal is reported in kB.
	gb := int(math.Round(float64(*info.MemTotal) / (1024 * 1024)))
	return max(1, gb)
}
