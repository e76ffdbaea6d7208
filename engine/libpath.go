package engine

import (
	"os"
	"path/filepath"
	"runtime"
)

// LibraryPathEnv overrides the shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// DefaultLibraryPath returns the onnxruntime shared library to load: the
// environment override if set, otherwise a per-platform name under lib/.
func DefaultLibraryPath() string {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}
	return filepath.Join("lib", libraryName(runtime.GOOS, runtime.GOARCH))
}

func libraryName(goos, goarch string) string {
	switch goos {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		if goarch == "arm64" {
			return "libonnxruntime_arm64.dylib"
		}
		return "libonnxruntime.dylib"
	default:
		if goarch == "arm64" {
			return "libonnxruntime_arm64.so"
		}
		return "libonnxruntime.so"
	}
}
