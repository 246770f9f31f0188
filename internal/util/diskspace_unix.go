//go:build !windows

package util

import (
	"golang.org/x/sys/unix"
)

type DiskSpaceInfo struct {
	AvailGB float64
	TotalGB float64
	UsedGB  float64
}

func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskSpaceInfo{}, err
	}
	availGB := float64(uint64(stat.Bavail)*uint64(stat.Bsize)) / (1024 * 1024 * 1024)
	totalGB := float64(uint64(stat.Blocks)*uint64(stat.Bsize)) / (1024 * 1024 * 1024)
	return DiskSpaceInfo{
		AvailGB: availGB,
		TotalGB: totalGB,
		UsedGB:  totalGB - availGB,
	}, nil
}
