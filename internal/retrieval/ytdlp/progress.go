package ytdlp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/saveforme/saveforme/internal/download"
)

// progressRe matches yt-dlp --newline progress lines, e.g.
//
//	[download]  42.5% of 10.00MiB at 1.20MiB/s ETA 00:05
//	[download] 100.0% of ~512.00KiB at Unknown speed ETA Unknown
var progressRe = regexp.MustCompile(
	`^\[download\]\s+([\d.]+)% of ~?\s*([\d.]+)(B|KiB|MiB|GiB|TiB)` +
		`(?: at\s+(?:([\d.]+)(B|KiB|MiB|GiB|TiB)/s|Unknown speed))?` +
		`(?: ETA (?:(\d+):(\d{2})(?::(\d{2}))?|Unknown))?`)

// parseProgressLine extracts a progress snapshot from one engine output
// line. Lines that are not progress reports return ok=false.
func parseProgressLine(line string) (download.Progress, bool) {
	m := progressRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return download.Progress{}, false
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return download.Progress{}, false
	}
	total, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return download.Progress{}, false
	}
	totalBytes := int64(total * unitMultiplier(m[3]))

	var speed float64
	if m[4] != "" {
		if v, err := strconv.ParseFloat(m[4], 64); err == nil {
			speed = v * unitMultiplier(m[5])
		}
	}

	var eta int64
	if m[6] != "" {
		h, _ := strconv.ParseInt(m[6], 10, 64)
		mm, _ := strconv.ParseInt(m[7], 10, 64)
		if m[8] != "" {
			ss, _ := strconv.ParseInt(m[8], 10, 64)
			eta = h*3600 + mm*60 + ss
		} else {
			eta = h*60 + mm
		}
	}

	return download.Progress{
		Percent:         percent,
		DownloadedBytes: int64(percent / 100 * float64(totalBytes)),
		TotalBytes:      totalBytes,
		SpeedBPS:        speed,
		ETASeconds:      eta,
	}, true
}

func unitMultiplier(unit string) float64 {
	switch unit {
	case "KiB":
		return 1 << 10
	case "MiB":
		return 1 << 20
	case "GiB":
		return 1 << 30
	case "TiB":
		return 1 << 40
	default:
		return 1
	}
}
