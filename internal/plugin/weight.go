package plugin

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	qualityPattern = regexp.MustCompile(`^(a)?(\d+)([pk])(\d+)?$`)
	altPattern     = regexp.MustCompile(`_alt(\d+)?$`)
)

// StreamWeight derives the ordering weight for a quality name such as
// "1080p", "720p60", "1500k" or "audio_aac". Pixel counts and bitrates
// contribute their numeric value, a frame rate above 30 adds the
// excess, a "+" suffix adds one, and "_alt" variants sort just below
// their base name. The group distinguishes pixel, bitrate and audio
// qualities; unrecognized names weigh zero.
func StreamWeight(name string) (weight float64, group string) {
	if name == "best" || name == "worst" {
		return 0, "none"
	}

	var altPenalty float64
	if m := altPattern.FindStringSubmatch(name); m != nil {
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		altPenalty = float64(n) / 100
		name = strings.TrimSuffix(name, m[0])
	}

	if rest, ok := strings.CutPrefix(name, "audio_"); ok && rest != "" {
		return 1 - altPenalty, "audio"
	}

	// Muxed names ("720p+a128k") weigh as their heaviest component; a
	// bare trailing "+" adds one.
	group = "none"
	var bonus float64
	for _, part := range strings.Split(name, "+") {
		if part == "" {
			bonus = 1
			continue
		}
		w, g := partWeight(part)
		if w > weight {
			weight, group = w, g
		}
	}
	return weight + bonus - altPenalty, group
}

func partWeight(part string) (float64, string) {
	m := qualityPattern.FindStringSubmatch(part)
	if m == nil {
		return 0, "none"
	}
	n, _ := strconv.Atoi(m[2])
	w := float64(n)

	if m[3] == "p" {
		if m[4] != "" {
			if fps, _ := strconv.Atoi(m[4]); fps > 30 {
				w += float64(fps - 30)
			}
		}
		return w, "pixels"
	}
	if m[1] == "a" {
		return w, "audio"
	}
	return w, "bitrate"
}

// SortedByWeight returns the entry names ordered from lowest to
// highest weight; equal weights keep their input order.
func SortedByWeight(entries []StreamEntry) []string {
	type ranked struct {
		name   string
		weight float64
	}
	rs := make([]ranked, len(entries))
	for i, e := range entries {
		w, _ := StreamWeight(e.Name)
		rs[i] = ranked{name: e.Name, weight: w}
	}
	slices.SortStableFunc(rs, func(a, b ranked) int {
		return cmp.Compare(a.weight, b.weight)
	})
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.name
	}
	return names
}
