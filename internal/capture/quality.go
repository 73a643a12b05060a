package capture

import (
	"strings"
)

// ParseQualitySelection filters a slash-delimited user preference string down
// to the labels that appear in formats, preserving order, plus the special
// tokens "best" and "audio" (§8: parse_quality law).
func ParseQualitySelection(formats []string, quality string) []string {
	var selected []string
	quality = strings.ToLower(strings.TrimSpace(quality))

	for _, q := range strings.Split(quality, "/") {
		stripped := strings.TrimSpace(q)
		if stripped == "" {
			continue
		}
		if stripped == "best" || stripped == "audio" {
			selected = append(selected, stripped)
			continue
		}
		for _, v := range formats {
			if stripped == v {
				selected = append(selected, stripped)
				break
			}
		}
	}

	return selected
}

// MakeQualityList renders the available labels as a comma-separated list
// with "best" always appended, for prompts and log lines.
func MakeQualityList(formats []string) string {
	var sb strings.Builder
	for _, v := range formats {
		sb.WriteString(v)
		sb.WriteString(", ")
	}
	sb.WriteString("best")
	return sb.String()
}

// ResolvedQuality is what quality resolution produces for one track pair.
type ResolvedQuality struct {
	Label      string
	VideoItag  int // 0 when audio-only
	IsVP9      bool
	AudioOnly  bool
}

// ResolveQuality walks the user's preference list against the itags actually
// present in dlURLs and returns the first satisfiable choice (§4.2). vp9/h264
// preference mirrors the teacher's GetVideoInfo walk.
func ResolveQuality(selected []string, available []string, dlURLs map[int]string, preferVP9, preferH264 bool) (ResolvedQuality, bool) {
	for _, q := range selected {
		q = strings.TrimSpace(q)
		if q == "best" {
			if len(available) == 0 {
				continue
			}
			q = available[len(available)-1]
		} else if q == "audio" {
			q = "audio_only"
		}

		itag, ok := VideoLabelItags[q]
		if !ok {
			continue
		}

		if itag.VP9 == AudioOnlyQuality {
			return ResolvedQuality{Label: q, AudioOnly: true}, true
		}

		_, vp9Ok := dlURLs[itag.VP9]
		_, h264Ok := dlURLs[itag.H264]

		if vp9Ok && (preferVP9 || !h264Ok) && !preferH264 {
			return ResolvedQuality{Label: q, VideoItag: itag.VP9, IsVP9: true}, true
		}
		if h264Ok {
			return ResolvedQuality{Label: q, VideoItag: itag.H264}, true
		}
	}

	return ResolvedQuality{}, false
}

// AvailableLabels builds the worst-to-best label list that actually has an
// itag present in dlURLs, always prefixed with audio_only.
func AvailableLabels(dlURLs map[int]string) []string {
	labels := []string{"audio_only"}
	for _, label := range VideoQualities {
		itag := VideoLabelItags[label]
		_, vp9Ok := dlURLs[itag.VP9]
		_, h264Ok := dlURLs[itag.H264]
		if contains(labels, label) || (!vp9Ok && !h264Ok) {
			continue
		}
		labels = append(labels, label)
	}
	return labels
}
