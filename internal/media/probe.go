package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ffprobeOutput is the subset of `ffprobe -print_format json` we read.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
	Tags         struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
	SideDataList []struct {
		SideDataType string  `json:"side_data_type"`
		Rotation     float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// rotation returns the display rotation in degrees, normalized to
// 0, 90, 180 or 270. The display matrix wins over the legacy rotate tag.
func (s *ffprobeStream) rotation() int {
	deg := 0.0
	found := false
	for _, sd := range s.SideDataList {
		if sd.SideDataType == "Display Matrix" {
			deg, found = sd.Rotation, true
			break
		}
	}
	if !found {
		deg = parseFloat(s.Tags.Rotate)
	}
	r := int(math.Round(deg/90)) * 90 % 360
	if r < 0 {
		r += 360
	}
	return r
}

// Probe reads the primary video stream metadata and whether an audio
// track is present.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (VideoInfo, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return VideoInfo{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput extracts VideoInfo from ffprobe JSON output.
// The frame count comes from nb_frames when present, otherwise it is
// estimated from duration and frame rate, otherwise it is 0.
// Width and Height are the displayed size: ffmpeg applies the stream's
// rotation when decoding, so a 90 or 270 degree rotation swaps them.
func parseProbeOutput(data []byte) (VideoInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var (
		info  VideoInfo
		video *ffprobeStream
	)
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return VideoInfo{}, ErrNoVideoStream
	}
	if video.Width <= 0 || video.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, video.Width, video.Height)
	}

	info.Width = video.Width
	info.Height = video.Height
	info.Rotation = video.rotation()
	if info.Rotation == 90 || info.Rotation == 270 {
		info.Width, info.Height = video.Height, video.Width
	}
	info.FrameRate = video.RFrameRate
	info.FPS = parseRational(video.RFrameRate)
	if info.FPS <= 0 {
		info.FrameRate = video.AvgFrameRate
		info.FPS = parseRational(video.AvgFrameRate)
	}
	if info.FPS <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid frame rate %q", video.RFrameRate)
	}

	info.Duration = parseFloat(video.Duration)
	if info.Duration <= 0 {
		info.Duration = parseFloat(out.Format.Duration)
	}

	if n, err := strconv.Atoi(video.NbFrames); err == nil && n > 0 {
		info.FrameCount = n
		info.FrameCountExact = true
	} else if info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration * info.FPS))
	}

	return info, nil
}

// parseRational parses "num/den" or a plain number. It returns 0 when the
// value is malformed or the denominator is zero.
func parseRational(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(num)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
