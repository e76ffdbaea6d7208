package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLibraryName(t *testing.T) {
	assert.Equal(t, "onnxruntime.dll", libraryName("windows", "amd64"))
	assert.Equal(t, "libonnxruntime_arm64.dylib", libraryName("darwin", "arm64"))
	assert.Equal(t, "libonnxruntime.so", libraryName("linux", "amd64"))
	assert.Equal(t, "libonnxruntime_arm64.so", libraryName("linux", "arm64"))
}

func TestDefaultLibraryPathHonorsEnv(t *testing.T) {
	t.Setenv(LibraryPathEnv, "/opt/ort/libonnxruntime.so.1.20.0")
	assert.Equal(t, "/opt/ort/libonnxruntime.so.1.20.0", DefaultLibraryPath())

	t.Setenv(LibraryPathEnv, "")
	assert.Equal(t, "lib", filepath.Dir(DefaultLibraryPath()))
}

func TestBindingInputNames(t *testing.T) {
	b := Binding{
		Inputs:  []NamedTensor{{Name: "images"}, {Name: "scale"}},
		Outputs: []string{"output0"},
	}
	assert.Equal(t, []string{"images", "scale"}, b.InputNames())
}

func TestSessionKeyDistinguishesSplit(t *testing.T) {
	assert.NotEqual(t,
		sessionKey([]string{"a", "b"}, []string{"c"}),
		sessionKey([]string{"a"}, []string{"b", "c"}),
	)
}
