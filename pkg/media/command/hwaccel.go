package command

// Caps reports which hardware encoder families the host tool exposes.
// Detection lives in the worker; the builder only consumes the result.
type Caps struct {
	NVENC        bool
	QSV          bool
	VAAPI        bool
	VideoToolbox bool
	AMF          bool
}

// encoderTable maps a logical codec to its per-family encoder names.
var encoderTable = map[string]map[string]string{
	"h264": {
		"nvenc":        "h264_nvenc",
		"qsv":          "h264_qsv",
		"vaapi":        "h264_vaapi",
		"videotoolbox": "h264_videotoolbox",
		"amf":          "h264_amf",
		"software":     "libx264",
	},
	"h265": {
		"nvenc":        "hevc_nvenc",
		"qsv":          "hevc_qsv",
		"vaapi":        "hevc_vaapi",
		"videotoolbox": "hevc_videotoolbox",
		"amf":          "hevc_amf",
		"software":     "libx265",
	},
	"hevc": {
		"nvenc":        "hevc_nvenc",
		"qsv":          "hevc_qsv",
		"vaapi":        "hevc_vaapi",
		"videotoolbox": "hevc_videotoolbox",
		"amf":          "hevc_amf",
		"software":     "libx265",
	},
	"av1": {
		"nvenc":    "av1_nvenc",
		"vaapi":    "av1_vaapi",
		"software": "libaom-av1",
	},
}

// av1Encoders maps the software encoder selector for AV1.
var av1Encoders = map[string]string{
	"svt":   "libsvtav1",
	"aom":   "libaom-av1",
	"rav1e": "librav1e",
}

// familyOrder fixes the hardware preference order so encoder selection
// is deterministic.
var familyOrder = []string{"nvenc", "qsv", "vaapi", "videotoolbox", "amf"}

func (c Caps) has(family string) bool {
	switch family {
	case "nvenc":
		return c.NVENC
	case "qsv":
		return c.QSV
	case "vaapi":
		return c.VAAPI
	case "videotoolbox":
		return c.VideoToolbox
	case "amf":
		return c.AMF
	}
	return false
}

// bestEncoder picks the encoder for a logical codec, preferring
// available hardware families and falling back to software. Codecs
// without a table entry pass through unchanged.
func bestEncoder(codec string, caps Caps) string {
	table, ok := encoderTable[codec]
	if !ok {
		return codec
	}
	for _, family := range familyOrder {
		if caps.has(family) {
			if encoder, ok := table[family]; ok {
				return encoder
			}
		}
	}
	return table["software"]
}

// hwaccelFlags returns the decode-side acceleration flags for the
// first available family.
func hwaccelFlags(caps Caps) []string {
	switch {
	case caps.NVENC:
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case caps.QSV:
		return []string{"-hwaccel", "qsv"}
	case caps.VAAPI:
		return []string{"-hwaccel", "vaapi", "-hwaccel_device", "/dev/dri/renderD128"}
	case caps.VideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	}
	return nil
}
