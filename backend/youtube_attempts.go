package backend

import "github.com/samber/lo"

// ExtractAttempt is one yt-dlp strategy tried by the extractor.
type ExtractAttempt struct {
	Label           string `json:"label"`
	FormatSelector  string `json:"formatSelector"`
	ExtractorArgs   string `json:"extractorArgs,omitempty"`
	UsesAuthHeaders bool   `json:"usesAuthHeaders"`
}

// Format selectors, ordered from most to least preferred.
const (
	audioFormatStandard = "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio/best"
	audioFormatSaver    = "bestaudio[abr<=128][ext=m4a]/bestaudio[abr<=128][ext=webm]/" +
		"bestaudio[abr<=128]/bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio/best"

	compatFormatStandard = "bestaudio/best"
	compatFormatSaver    = "bestaudio[abr<=128]/bestaudio/best"
)

// Extractor args per player client strategy.
const (
	extractorArgsAndroidFast = "youtube:player_client=android;player_skip=webpage,configs"
	extractorArgsAndroidWeb  = "youtube:player_client=android,web"
)

// preferredAudioFormat returns the format chain for the requested quality.
func preferredAudioFormat(dataSaver bool) string {
	if dataSaver {
		return audioFormatSaver
	}
	return audioFormatStandard
}

func compatAudioFormat(dataSaver bool) string {
	if dataSaver {
		return compatFormatSaver
	}
	return compatFormatStandard
}

// PlanAttempts returns the ordered extraction strategies for one request.
// The fast android client goes first; later entries trade latency for
// compatibility and the last one drops extractor args entirely. Strategies
// that need auth headers are skipped when the caller sent none.
func PlanAttempts(dataSaver bool, hasAuthHeaders bool) []ExtractAttempt {
	preferred := preferredAudioFormat(dataSaver)
	compat := compatAudioFormat(dataSaver)

	candidates := []ExtractAttempt{
		{
			Label:          "android-fast",
			FormatSelector: preferred,
			ExtractorArgs:  extractorArgsAndroidFast,
		},
		{
			Label:           "android-web-auth",
			FormatSelector:  preferred,
			ExtractorArgs:   extractorArgsAndroidWeb,
			UsesAuthHeaders: true,
		},
		{
			Label:          "android-web-noauth",
			FormatSelector: preferred,
			ExtractorArgs:  extractorArgsAndroidWeb,
		},
		{
			Label:           "compat-auth",
			FormatSelector:  compat,
			UsesAuthHeaders: true,
		},
		{
			Label:          "compat-noauth",
			FormatSelector: compat,
		},
	}

	return lo.Filter(candidates, func(a ExtractAttempt, _ int) bool {
		return !a.UsesAuthHeaders || hasAuthHeaders
	})
}
