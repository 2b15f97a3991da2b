package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrFFmpegUnavailable is returned by every operation when the binaries are missing.
var ErrFFmpegUnavailable = errors.New("ffmpeg not available")

type VideoInfo struct {
	Width    int
	Height   int
	Duration float64
}

// VideoProcessor extracts metadata and derivatives from a video.
type VideoProcessor interface {
	Probe(ctx context.Context, data []byte) (VideoInfo, error)
	PosterFrame(ctx context.Context, data []byte) (image.Image, error)
	PreviewClip(ctx context.Context, data []byte) ([]byte, error)
}

// ClipPreset holds the output settings for preview clips.
type ClipPreset struct {
	MaxSeconds   int
	FrameRate    int
	VideoBitrate string
	MaxWidth     int
	MaxHeight    int
}

var DefaultClipPreset = ClipPreset{
	MaxSeconds:   10,
	FrameRate:    15,
	VideoBitrate: "500k",
	MaxWidth:     previewMaxWidth,
	MaxHeight:    previewMaxHeight,
}

// Args renders the encoder arguments for the preset.
func (p ClipPreset) Args() []string {
	scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2,fps=%d",
		p.MaxWidth, p.MaxHeight, p.FrameRate)
	return []string{
		"-t", strconv.Itoa(p.MaxSeconds),
		"-an",
		"-vf", scale,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", p.VideoBitrate,
		"-maxrate", p.VideoBitrate,
		"-bufsize", p.VideoBitrate,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
	}
}

// FFmpeg shells out to ffmpeg and ffprobe.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	preset  ClipPreset
	missing error
}

// NewFFmpeg resolves both binaries. Missing binaries are not fatal: every call
// then fails with ErrFFmpegUnavailable and the pipeline skips video derivatives.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	f := &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath, preset: DefaultClipPreset}
	for _, bin := range []string{ffmpegPath, ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			f.missing = fmt.Errorf("%w: %s not found in PATH", ErrFFmpegUnavailable, bin)
		}
	}
	return f
}

func (f *FFmpeg) withInput(data []byte, fn func(dir, in string) error) error {
	if f.missing != nil {
		return f.missing
	}
	dir, err := os.MkdirTemp("", "mediastore-video-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	in := filepath.Join(dir, "input")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return fmt.Errorf("write temp input: %w", err)
	}
	return fn(dir, in)
}

func run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (f *FFmpeg) Probe(ctx context.Context, data []byte) (VideoInfo, error) {
	var info VideoInfo
	err := f.withInput(data, func(_, in string) error {
		out, err := run(ctx, f.ffprobe, "-v", "error", "-select_streams", "v:0",
			"-show_entries", "stream=width,height:format=duration", "-of", "json", in)
		if err != nil {
			return err
		}
		info, err = parseProbe(out)
		return err
	})
	return info, err
}

func parseProbe(out []byte) (VideoInfo, error) {
	var payload struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(payload.Streams) == 0 {
		return VideoInfo{}, errors.New("no video stream")
	}
	info := VideoInfo{Width: payload.Streams[0].Width, Height: payload.Streams[0].Height}
	if payload.Format.Duration != "" {
		d, err := strconv.ParseFloat(payload.Format.Duration, 64)
		if err != nil {
			return VideoInfo{}, fmt.Errorf("parse duration %q: %w", payload.Format.Duration, err)
		}
		info.Duration = d
	}
	return info, nil
}

func (f *FFmpeg) PosterFrame(ctx context.Context, data []byte) (image.Image, error) {
	var img image.Image
	err := f.withInput(data, func(dir, in string) error {
		out := filepath.Join(dir, "poster.png")
		if _, err := run(ctx, f.ffmpeg, "-y", "-v", "error", "-i", in, "-frames:v", "1", "-f", "image2", "-c:v", "png", out); err != nil {
			return err
		}
		raw, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("read poster frame: %w", err)
		}
		img, err = decodeImage(raw)
		return err
	})
	return img, err
}

func (f *FFmpeg) PreviewClip(ctx context.Context, data []byte) ([]byte, error) {
	var clip []byte
	err := f.withInput(data, func(dir, in string) error {
		out := filepath.Join(dir, "preview.mp4")
		args := append([]string{"-y", "-v", "error", "-i", in}, f.preset.Args()...)
		if _, err := run(ctx, f.ffmpeg, append(args, out)...); err != nil {
			return err
		}
		var err error
		clip, err = os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("read preview clip: %w", err)
		}
		return nil
	})
	return clip, err
}
