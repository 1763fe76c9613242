package worker

import (
	"context"
	"os/exec"
	"strings"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/media/command"
)

// DetectCaps discovers hardware encoder support by listing the tool's
// encoders. Runs once per worker process at startup; a failed probe
// yields software-only capabilities.
func DetectCaps(ctx context.Context, binary string, logger *logging.Logger) command.Caps {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		logger.Warn("encoder discovery failed, using software encoders", map[string]interface{}{
			"error": err.Error(),
		})
		return command.Caps{}
	}

	caps := parseEncoderList(string(out))
	logger.Info("hardware encoder discovery complete", map[string]interface{}{
		"nvenc":        caps.NVENC,
		"qsv":          caps.QSV,
		"vaapi":        caps.VAAPI,
		"videotoolbox": caps.VideoToolbox,
		"amf":          caps.AMF,
	})
	return caps
}

func parseEncoderList(listing string) command.Caps {
	caps := command.Caps{}
	for _, line := range strings.Split(listing, "\n") {
		switch {
		case strings.Contains(line, "h264_nvenc"):
			caps.NVENC = true
		case strings.Contains(line, "h264_qsv"):
			caps.QSV = true
		case strings.Contains(line, "h264_vaapi"):
			caps.VAAPI = true
		case strings.Contains(line, "h264_videotoolbox"):
			caps.VideoToolbox = true
		case strings.Contains(line, "h264_amf"):
			caps.AMF = true
		}
	}
	return caps
}
