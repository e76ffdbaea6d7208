// Package sysinfo reports read-only facts about the host the pipeline runs on.
package sysinfo

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/cpu"
)

type Report struct {
	GOOS           string
	GOARCH         string
	NumCPU         int
	GoMaxProcs     int
	CPUFeatures    []string
	TotalMemory    uint64
	AvailMemory    uint64
	RuntimeVersion string
	LibraryPath    string
}

// Collect gathers the report. Memory figures are left at zero if the host
// does not expose them.
func Collect(runtimeVersion, libraryPath string) (Report, error) {
	r := Report{
		GOOS:           runtime.GOOS,
		GOARCH:         runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		GoMaxProcs:     runtime.GOMAXPROCS(0),
		CPUFeatures:    CPUFeatures(),
		RuntimeVersion: runtimeVersion,
		LibraryPath:    libraryPath,
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return r, fmt.Errorf("read memory info: %w", err)
	}
	r.TotalMemory = vm.Total
	r.AvailMemory = vm.Available
	return r, nil
}

// CPUFeatures lists the SIMD extensions relevant to inference kernels.
func CPUFeatures() []string {
	flags := map[string]bool{}
	switch runtime.GOARCH {
	case "amd64", "386":
		flags["sse4.1"] = cpu.X86.HasSSE41
		flags["avx"] = cpu.X86.HasAVX
		flags["avx2"] = cpu.X86.HasAVX2
		flags["fma"] = cpu.X86.HasFMA
		flags["avx512f"] = cpu.X86.HasAVX512F
		flags["avx512vnni"] = cpu.X86.HasAVX512VNNI
	case "arm64":
		flags["asimd"] = cpu.ARM64.HasASIMD
		flags["asimddp"] = cpu.ARM64.HasASIMDDP
		flags["fphp"] = cpu.ARM64.HasFPHP
		flags["sve"] = cpu.ARM64.HasSVE
	}

	var out []string
	for name, ok := range flags {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r Report) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRow(table.Row{"Platform", r.GOOS + "/" + r.GOARCH})
	t.AppendRow(table.Row{"CPUs", fmt.Sprintf("%d (GOMAXPROCS %d)", r.NumCPU, r.GoMaxProcs)})
	features := strings.Join(r.CPUFeatures, " ")
	if features == "" {
		features = "-"
	}
	t.AppendRow(table.Row{"CPU features", features})
	if r.TotalMemory > 0 {
		t.AppendRow(table.Row{"Memory", fmt.Sprintf("%s total, %s available",
			units.BytesSize(float64(r.TotalMemory)), units.BytesSize(float64(r.AvailMemory)))})
	}
	if r.RuntimeVersion != "" {
		t.AppendRow(table.Row{"ONNX Runtime", r.RuntimeVersion})
	}
	if r.LibraryPath != "" {
		t.AppendRow(table.Row{"Library", r.LibraryPath})
	}
	return t.Render()
}
