// SPDX-License-Identifier: MIT

package video

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/maskd/internal/core"
	"github.com/ManuGH/maskd/internal/fsutil"
	"github.com/ManuGH/maskd/internal/log"
	"github.com/ManuGH/maskd/internal/procgroup"
)

// killGrace is how long a cancelled ffmpeg/ffprobe group gets to exit on
// SIGTERM before SIGKILL.
const killGrace = 3 * time.Second

// FFmpegSource decodes videos by shelling out to ffprobe/ffmpeg, the same
// way the streaming pipeline drives its media binaries.
type FFmpegSource struct {
	FFprobeBin string // defaults to "ffprobe"
	FFmpegBin  string // defaults to "ffmpeg"
}

// NewFFmpegSource returns a source using the binaries on PATH.
func NewFFmpegSource() *FFmpegSource {
	return &FFmpegSource{FFprobeBin: "ffprobe", FFmpegBin: "ffmpeg"}
}

// Probe reads stream metadata via ffprobe.
func (s *FFmpegSource) Probe(ctx context.Context, ref string) (Meta, error) {
	if err := readableFile(ref); err != nil {
		return Meta{}, err
	}

	bin := s.FFprobeBin
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames,nb_read_frames",
		"-count_frames",
		ref,
	) // #nosec G204
	groupKill(cmd)
	out, err := cmd.Output()
	if err != nil {
		return Meta{}, fmt.Errorf("%w: ffprobe %s: %v", core.ErrVideoUnreadable, ref, err)
	}

	var probe struct {
		Streams []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			RFrameRate   string `json:"r_frame_rate"`
			NBFrames     string `json:"nb_frames"`
			NBReadFrames string `json:"nb_read_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return Meta{}, fmt.Errorf("%w: ffprobe json: %v", core.ErrVideoUnreadable, err)
	}
	if len(probe.Streams) == 0 {
		return Meta{}, fmt.Errorf("%w: %s has no video stream", core.ErrVideoUnreadable, ref)
	}

	st := probe.Streams[0]
	frames := st.NBReadFrames
	if frames == "" {
		frames = st.NBFrames
	}
	total, _ := strconv.Atoi(frames)
	return Meta{
		Width:       st.Width,
		Height:      st.Height,
		FPS:         parseRate(st.RFrameRate),
		TotalFrames: total,
	}, nil
}

// Decode extracts up to limit frames through an ffmpeg image2 run into a
// scratch directory, then loads them as RGB.
func (s *FFmpegSource) Decode(ctx context.Context, ref string, limit int) ([]*image.RGBA, Meta, error) {
	meta, err := s.Probe(ctx, ref)
	if err != nil {
		return nil, Meta{}, err
	}

	tmp, err := os.MkdirTemp("", "maskd_decode_")
	if err != nil {
		return nil, Meta{}, fmt.Errorf("create decode scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			logger := log.WithComponent("video")
			logger.Warn().
				Err(rmErr).
				Str(log.FieldPath, tmp).
				Msg("failed to remove decode scratch dir")
		}
	}()

	bin := s.FFmpegBin
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{"-v", "error", "-i", ref}
	if limit > 0 {
		args = append(args, "-frames:v", strconv.Itoa(limit))
	}
	args = append(args, "-f", "image2", filepath.Join(tmp, "%06d.png"))

	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204
	groupKill(cmd)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, Meta{}, fmt.Errorf("%w: ffmpeg decode %s: %v: %s",
			core.ErrVideoUnreadable, ref, err, strings.TrimSpace(string(out)))
	}

	frames, err := loadPNGDir(tmp)
	if err != nil {
		return nil, Meta{}, err
	}
	if meta.TotalFrames < len(frames) {
		meta.TotalFrames = len(frames)
	}
	return frames, meta, nil
}

func loadPNGDir(dir string) ([]*image.RGBA, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read decode dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]*image.RGBA, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name)) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("open frame %s: %w", name, err)
		}
		img, err := png.Decode(f)
		closeErr := f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode frame %s: %w", name, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close frame %s: %w", name, closeErr)
		}
		frames = append(frames, toRGBA(img))
	}
	return frames, nil
}

// groupKill makes ctx cancellation take down the media binary together
// with any decoder children it forked.
func groupKill(cmd *exec.Cmd) {
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.KillGroup(cmd.Process.Pid, killGrace)
	}
}

func readableFile(ref string) error {
	if err := fsutil.IsRegularFile(ref); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrVideoUnreadable, ref, err)
	}
	return nil
}

// parseRate parses ffprobe rational rates like "30000/1001" or "25/1".
func parseRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}
