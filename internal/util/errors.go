package util

import "strings"

// DescribeFailure maps the tail of an ffmpeg log to a short reason a
// caller can act on.
func DescribeFailure(output string) string {
	msg := strings.ToLower(output)

	if strings.Contains(msg, "connection refused") {
		return "Connection refused by the ingest server"
	}
	if strings.Contains(msg, "failed to resolve hostname") || strings.Contains(msg, "name or service not known") || strings.Contains(msg, "could not resolve") {
		return "Could not resolve the ingest host"
	}
	if strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout") {
		return "Connection to the ingest server timed out"
	}
	if strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") {
		return "Stream key was rejected by the platform"
	}
	if strings.Contains(msg, "tls") || strings.Contains(msg, "ssl") || strings.Contains(msg, "handshake") {
		return "Secure connection to the ingest server failed"
	}
	if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "i/o error") || strings.Contains(msg, "end of file") {
		return "Connection to the ingest server dropped"
	}
	if strings.Contains(msg, "no such file or directory") {
		return "Input video is missing"
	}
	if strings.Contains(msg, "invalid data found when processing input") || strings.Contains(msg, "moov atom not found") {
		return "Input video could not be decoded"
	}
	if strings.Contains(msg, "unknown encoder") || strings.Contains(msg, "encoder not found") {
		return "ffmpeg is missing a required encoder"
	}
	if strings.Contains(msg, "signal") || strings.Contains(msg, "killed") {
		return "ffmpeg was terminated"
	}
	return "Streaming failed"
}
