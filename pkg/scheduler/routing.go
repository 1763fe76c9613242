package scheduler

import "github.com/CodecFlow/codecflow/pkg/media/validate"

// RouteQueue picks the queue for a validated operation list. Streaming
// packaging and explicit hardware encoding go to the GPU-affine
// streaming queue; jobs that only extract thumbnails go to the light
// analysis queue; everything else is general transcode work.
func RouteQueue(ops []validate.Operation) string {
	analysisOnly := len(ops) > 0
	for _, op := range ops {
		switch o := op.(type) {
		case *validate.Stream:
			return QueueStreaming
		case *validate.Transcode:
			if wantsHardware(o.HardwareAcceleration) {
				return QueueStreaming
			}
			analysisOnly = false
		case *validate.Thumbnail:
		default:
			analysisOnly = false
		}
	}
	if analysisOnly {
		return QueueAnalysis
	}
	return QueueDefault
}

func wantsHardware(accel string) bool {
	switch accel {
	case "", "none", "auto":
		return false
	}
	return true
}
