package util

import (
	"fmt"
	"os/exec"
)

// CheckDependencies reports whether ffmpeg can be run and prints what it
// found. ffprobe is informational only.
func CheckDependencies(ffmpegPath string) bool {
	ok := true
	deps := []struct {
		name     string
		required bool
	}{
		{ffmpegPath, true},
		{"ffprobe", false},
	}

	for _, dep := range deps {
		path, err := exec.LookPath(dep.name)
		if err != nil {
			if dep.required {
				fmt.Printf("✗ %s not found (REQUIRED)\n", dep.name)
				ok = false
			} else {
				fmt.Printf("- %s not found (optional)\n", dep.name)
			}
			continue
		}
		fmt.Printf("✓ %s found: %s\n", dep.name, path)
	}

	if ok {
		if v, err := FFmpegVersion(ffmpegPath); err == nil && v != "" {
			fmt.Printf("  %s\n", v)
		}
	}
	return ok
}
