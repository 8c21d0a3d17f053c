package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/audion/pkg/utils"
)

// ErrFFmpegMissing is returned when a file needs transcoding and no ffmpeg
// binary can be found.
var ErrFFmpegMissing = errors.New("ffmpeg not found in PATH")

type ConvertWAVConfig struct {
	FFmpegBin string
	Timeout   time.Duration
}

// ConvertToWAV transcodes inputPath to 16-bit PCM WAV in outputDir. Sample
// rate and channel layout are left as they are in the source.
func ConvertToWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	bin, err := exec.LookPath(cfg.FFmpegBin)
	if err != nil {
		return "", ErrFFmpegMissing
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	baseName := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s.wav", baseName, utils.GenerateUUID()))

	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		bin,
		"-y",
		"-v", "error",
		"-i", inputPath,
		"-vn",
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, strings.TrimSpace(string(out)))
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}

// FFmpegAvailable reports whether the given ffmpeg binary can be executed.
func FFmpegAvailable(bin string) bool {
	if bin == "" {
		bin = "ffmpeg"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}
