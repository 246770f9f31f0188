package services

import (
	"fmt"
	"sort"
	"strconv"
)

type platformProfile struct {
	urlFormat string
	encoder   []string
}

var cbrAudio = []string{
	"-x264-params", "nal-hrd=cbr:force-cfr=1",
	"-c:a", "aac", "-b:a", "128k", "-ar", "44100", "-ac", "2",
}

func cbrVideo(rate, buf string) []string {
	args := []string{"-c:v", "libx264", "-preset", "veryfast", "-b:v", rate, "-minrate", rate, "-maxrate", rate, "-bufsize", buf}
	return append(args, cbrAudio...)
}

var platformTable = map[string]platformProfile{
	"youtube": {
		urlFormat: "rtmp://a.rtmp.youtube.com/live2/%s",
		encoder:   []string{"-c:v", "libx264", "-preset", "veryfast", "-b:v", "2500k", "-maxrate", "2500k", "-bufsize", "512k"},
	},
	"facebook": {
		urlFormat: "rtmps://live-api-s.facebook.com:443/rtmp/%s",
		encoder:   cbrVideo("4500k", "9000k"),
	},
	"instagram": {
		urlFormat: "rtmps://%s/rtmp/%s",
		encoder:   cbrVideo("6000k", "12000k"),
	},
	"twitter": {
		urlFormat: "rtmps://live.twitter.com/%s",
		encoder: []string{
			"-c:v", "libx264", "-preset", "veryfast", "-b:v", "2500k", "-maxrate", "2500k", "-bufsize", "5000k",
			"-c:a", "aac", "-b:a", "128k", "-ar", "44100", "-ac", "2",
		},
	},
}

func Platforms() []string {
	out := make([]string, 0, len(platformTable))
	for name := range platformTable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func ValidPlatform(name string) bool {
	_, ok := platformTable[name]
	return ok
}

// DestinationURL renders the ingest URL for platform. instagramHost is only
// consulted for instagram.
func DestinationURL(platform, streamKey, instagramHost string) (string, error) {
	p, ok := platformTable[platform]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, platform)
	}
	if platform == "instagram" {
		return fmt.Sprintf(p.urlFormat, instagramHost, streamKey), nil
	}
	return fmt.Sprintf(p.urlFormat, streamKey), nil
}

// BuildArgs returns the ffmpeg argument list that relays input to platform.
func BuildArgs(input string, loops int, platform, streamKey, instagramHost string) ([]string, error) {
	dest, err := DestinationURL(platform, streamKey, instagramHost)
	if err != nil {
		return nil, err
	}
	if loops < 0 {
		loops = 0
	}

	args := []string{"-hide_banner", "-re", "-stream_loop", strconv.Itoa(loops), "-i", input}
	args = append(args, platformTable[platform].encoder...)
	args = append(args, "-f", "flv", dest)
	return args, nil
}
