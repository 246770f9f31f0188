package util

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
var multiSpaceRe = regexp.MustCompile(`\s+`)
var ownerTagRe = regexp.MustCompile(`[^A-Za-z0-9@._+-]`)

func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// ClearDir removes everything inside dir and returns how many entries went.
func ClearDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, os.MkdirAll(dir, 0755)
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("could not clear file")
			continue
		}
		removed++
	}
	return removed, nil
}

func SanitizeFilename(filename string) string {
	s := unsafeFilenameRe.ReplaceAllString(filename, "_")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// SanitizeOwnerTag makes a caller-supplied owner tag safe to embed in a
// stored filename.
func SanitizeOwnerTag(tag string) string {
	s := ownerTagRe.ReplaceAllString(strings.TrimSpace(tag), "_")
	s = strings.Trim(s, ".")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		return "anonymous"
	}
	return s
}

// StartDiskSpaceWatch logs free space under dir every interval and calls
// onLow when it drops below minGB.
func StartDiskSpaceWatch(ctx context.Context, dir string, interval time.Duration, minGB float64, onLow func(availGB float64)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ds, err := GetDiskSpace(dir)
				if err != nil {
					log.Warn().Err(err).Str("dir", dir).Msg("disk space check failed")
					continue
				}
				log.Debug().
					Float64("avail_gb", ds.AvailGB).
					Float64("total_gb", ds.TotalGB).
					Float64("used_gb", ds.UsedGB).
					Msg("disk space")
				if ds.AvailGB < minGB {
					log.Warn().Float64("avail_gb", ds.AvailGB).Float64("min_gb", minGB).Msg("disk space below threshold")
					if onLow != nil {
						onLow(ds.AvailGB)
					}
				}
			}
		}
	}()
}
