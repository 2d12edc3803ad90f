// Package ytdlp shells out to the yt-dlp binary for metadata and media
// retrieval.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/retrieval"
)

// Config points at the binary and the artifact directory.
type Config struct {
	BinaryPath   string
	OutputDir    string
	AudioCodec   string
	AudioBitrate string
}

// Runner executes external commands. The default implementation shells out;
// tests substitute a fake.
type Runner interface {
	// Output runs the command to completion and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Stream runs the command, invoking onLine for each stdout line.
	Stream(ctx context.Context, onLine func(line string), name string, args ...string) error
}

// Locator resolves the artifact a finished transfer left on disk.
type Locator interface {
	Locate(videoID string) (download.Artifact, error)
}

// Client implements retrieval.Invoker against a local yt-dlp binary.
type Client struct {
	cfg     Config
	run     Runner
	locator Locator
	logger  *zap.Logger
}

// New builds a Client that shells out to the configured binary.
func New(cfg Config, locator Locator, logger *zap.Logger) *Client {
	return NewWithRunner(cfg, locator, execRunner{}, logger)
}

// NewWithRunner builds a Client with a custom command runner.
func NewWithRunner(cfg Config, locator Locator, run Runner, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, run: run, locator: locator, logger: logger}
}

// Metadata fetches the video description as JSON without transferring media.
func (c *Client) Metadata(ctx context.Context, url string, st retrieval.Strategy) (download.Metadata, error) {
	args := append(c.strategyArgs(st), "-J", "--no-playlist", url)

	out, err := c.run.Output(ctx, c.cfg.BinaryPath, args...)
	if err != nil {
		return download.Metadata{}, fmt.Errorf("probe %s: %w", url, err)
	}

	var raw struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Duration    float64 `json:"duration"`
		Thumbnail   string  `json:"thumbnail"`
		Channel     string  `json:"channel"`
		Uploader    string  `json:"uploader"`
		ViewCount   int64   `json:"view_count"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return download.Metadata{}, fmt.Errorf("decode probe output: %w", err)
	}

	channel := raw.Channel
	if channel == "" {
		channel = raw.Uploader
	}
	return download.Metadata{
		VideoID:     raw.ID,
		Title:       raw.Title,
		Description: raw.Description,
		Duration:    int64(raw.Duration),
		Thumbnail:   raw.Thumbnail,
		ChannelName: channel,
		ViewCount:   raw.ViewCount,
	}, nil
}

// Download transfers the media, streaming progress lines to onProgress, and
// resolves the resulting artifact through the locator. Output files are
// prefixed with the video ID so the locator can find them.
func (c *Client) Download(ctx context.Context, url string, opts download.MediaOptions, st retrieval.Strategy, onProgress download.ProgressFunc) (download.Artifact, error) {
	quality, err := download.ParseQuality(opts.Quality)
	if err != nil {
		return download.Artifact{}, err
	}

	template := filepath.Join(c.cfg.OutputDir, opts.VideoID+"_%(title).180B.%(ext)s")
	args := append(c.strategyArgs(st),
		"--newline",
		"--no-playlist",
		"-o", template,
	)
	args = append(args, c.formatArgs(opts.AudioOnly, st.EffectiveQuality(quality))...)
	args = append(args, url)

	onLine := func(line string) {
		p, ok := parseProgressLine(line)
		if ok && onProgress != nil {
			onProgress(p)
		}
	}
	if err := c.run.Stream(ctx, onLine, c.cfg.BinaryPath, args...); err != nil {
		return download.Artifact{}, fmt.Errorf("transfer %s: %w", url, err)
	}
	return c.locator.Locate(opts.VideoID)
}

func (c *Client) strategyArgs(st retrieval.Strategy) []string {
	args := []string{"--no-warnings"}
	if st.ClientProfile != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+st.ClientProfile)
	}
	if st.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(st.SocketTimeout.Seconds())))
	}
	return args
}

func (c *Client) formatArgs(audioOnly bool, height int) []string {
	if audioOnly {
		return []string{
			"-f", "bestaudio/best",
			"--extract-audio",
			"--audio-format", c.cfg.AudioCodec,
			"--audio-quality", c.cfg.AudioBitrate,
		}
	}
	if height > 0 {
		sel := fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", height, height)
		return []string{"-f", sel}
	}
	return []string{"-f", "bestvideo+bestaudio/best"}
}

// execRunner shells out via os/exec.
type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, commandError(name, err, &stderr)
	}
	return stdout.Bytes(), nil
}

func (execRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: start: %w", name, err)
	}

	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		onLine(sc.Text())
	}

	if err := cmd.Wait(); err != nil {
		return commandError(name, err, &stderr)
	}
	return nil
}

// commandError folds the last stderr line into the exec error so failures
// carry the engine's own message.
func commandError(name string, err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %s", name, err, msg)
}
