package util

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Devdeo/devv/internal/config"
)

// FileExtension returns the lower-cased extension of filename without the dot.
func FileExtension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

func AllowedFile(filename string) bool {
	if !strings.Contains(filename, ".") {
		return false
	}
	return config.Contains(config.AllowedExtensions, FileExtension(filename))
}

func ValidVideoID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ValidStreamKey rejects keys that would change the shape of the ingest URL.
func ValidStreamKey(key string) bool {
	if key == "" || len(key) > 512 {
		return false
	}
	return !strings.ContainsAny(key, " \t\r\n/?#")
}
