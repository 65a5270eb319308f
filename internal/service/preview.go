package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go-chat-relay/pkg/logger"

	"go.uber.org/zap"
)

// FFmpegPreviewGenerator 通过调用ffmpeg生成媒体预览：
// 图片转为压缩的webp，视频转为720p以内的webm。
// 其他类型（包括SVG，前端直接用原图）不生成预览。
type FFmpegPreviewGenerator struct {
	ffmpegPath  string
	filesDir    string
	previewsDir string
	timeout     time.Duration
}

func NewFFmpegPreviewGenerator(ffmpegPath, filesDir, previewsDir string, timeout time.Duration) *FFmpegPreviewGenerator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegPreviewGenerator{
		ffmpegPath:  ffmpegPath,
		filesDir:    filesDir,
		previewsDir: previewsDir,
		timeout:     timeout,
	}
}

func (g *FFmpegPreviewGenerator) Generate(storedName, mimeType string) (string, error) {
	originalPath := filepath.Join(g.filesDir, storedName)
	if _, err := os.Stat(originalPath); err != nil {
		return "", fmt.Errorf("original file not found: %w", err)
	}

	if err := os.MkdirAll(g.previewsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create previews directory: %w", err)
	}

	baseName := strings.TrimSuffix(storedName, filepath.Ext(storedName))

	switch {
	case mimeType == "image/svg+xml":
		// SVG不转换，前端直接展示原图
		return "", nil
	case strings.HasPrefix(mimeType, "image/"):
		return g.convert(originalPath, baseName+".webp",
			"-q:v", "80")
	case strings.HasPrefix(mimeType, "video/"):
		// 限制高度720p并保持比例，VP8编码速度快于VP9
		return g.convert(originalPath, baseName+".webm",
			"-c:v", "libvpx", "-c:a", "libvorbis",
			"-vf", "scale=-2:'min(720,ih)'", "-f", "webm")
	default:
		return "", nil
	}
}

func (g *FFmpegPreviewGenerator) convert(originalPath, previewName string, extraArgs ...string) (string, error) {
	ctx := context.Background()
	cancel := func() {}
	if g.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	defer cancel()

	previewPath := filepath.Join(g.previewsDir, previewName)
	args := append([]string{"-y", "-i", originalPath}, extraArgs...)
	args = append(args, previewPath)

	cmd := exec.CommandContext(ctx, g.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		// 残留的半成品预览没有用处，顺手删掉
		os.Remove(previewPath)
		logger.L.Warn("ffmpeg conversion failed",
			zap.String("original", originalPath),
			zap.ByteString("output", lastBytes(output, 512)),
			zap.Error(err))
		return "", fmt.Errorf("ffmpeg conversion failed: %w", err)
	}

	return previewName, nil
}

// DisabledPreviewGenerator 在关闭预览功能时使用，对任何文件都不产出预览。
type DisabledPreviewGenerator struct{}

func (DisabledPreviewGenerator) Generate(storedName, mimeType string) (string, error) {
	return "", nil
}

func lastBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
