package download

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ExtractVideoID pulls the video identifier out of a watch URL. Both the
// youtube.com/watch?v= and youtu.be/ short forms are accepted.
func ExtractVideoID(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if i := strings.IndexByte(id, '/'); i >= 0 {
			id = id[:i]
		}
		if id == "" {
			return "", fmt.Errorf("%w: short URL carries no video id", ErrInvalidRequest)
		}
		return id, nil
	case "youtube.com", "m.youtube.com":
		if !strings.HasPrefix(u.Path, "/watch") {
			return "", fmt.Errorf("%w: unsupported path %q", ErrInvalidRequest, u.Path)
		}
		id := u.Query().Get("v")
		if id == "" {
			return "", fmt.Errorf("%w: missing v parameter", ErrInvalidRequest)
		}
		return id, nil
	default:
		return "", fmt.Errorf("%w: unsupported host %q", ErrInvalidRequest, u.Hostname())
	}
}

// ParseQuality interprets a quality token. A token with a "p" unit suffix
// (e.g. "720p") yields its numeric height; "best" or an empty token yields 0,
// meaning the strategy's own ceiling applies.
func ParseQuality(token string) (int, error) {
	token = strings.TrimSpace(strings.ToLower(token))
	if token == "" || token == "best" {
		return 0, nil
	}
	if !strings.HasSuffix(token, "p") {
		return 0, fmt.Errorf("%w: unrecognized quality %q", ErrInvalidRequest, token)
	}
	height, err := strconv.Atoi(strings.TrimSuffix(token, "p"))
	if err != nil || height <= 0 {
		return 0, fmt.Errorf("%w: unrecognized quality %q", ErrInvalidRequest, token)
	}
	return height, nil
}

var filenameReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_",
	"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
)

const maxFilenameLen = 200

// SanitizeFilename strips characters that are unsafe in filenames and bounds
// the length.
func SanitizeFilename(name string) string {
	sanitized := filenameReplacer.Replace(name)
	if len(sanitized) > maxFilenameLen {
		sanitized = sanitized[:maxFilenameLen]
	}
	return sanitized
}

// FormatDuration renders a second count as hh:mm:ss (or mm:ss under an hour).
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return "unknown"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatSizeMB renders a megabyte count with a unit suited to its magnitude.
func FormatSizeMB(sizeMB float64) string {
	switch {
	case sizeMB < 1:
		return fmt.Sprintf("%.1f KB", sizeMB*1024)
	case sizeMB < 1024:
		return fmt.Sprintf("%.1f MB", sizeMB)
	default:
		return fmt.Sprintf("%.1f GB", sizeMB/1024)
	}
}
