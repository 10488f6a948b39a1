package persona

import "strings"

// Detector decides whether a modality enhancement applies to a message and
// appends the corresponding block to a system prompt.
type Detector struct {
	keywords    []string
	enhancement string
	contextTag  string
}

// IsRequest reports whether the text mentions this modality. Matching is
// case-insensitive substring search.
func (d Detector) IsRequest(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// BuildPrompt appends the enhancement block to base. A non-empty context is
// added as a trailing context line.
func (d Detector) BuildPrompt(base, context string) string {
	out := base + d.enhancement
	if context != "" {
		out += "\nCurrent " + d.contextTag + " context: " + context
	}
	return out
}

var Vision = Detector{
	keywords: []string{
		"image", "picture", "photo", "visual", "see", "look at",
		"show me", "analyze", "what is this", "describe",
	},
	contextTag: "image",
	enhancement: "\n\nVISION ANALYSIS ACTIVE:\n" +
		"You can analyze images, photographs, and visual content with these capabilities:\n" +
		"- Object recognition and identification\n" +
		"- Text extraction (OCR)\n" +
		"- Scene description and context analysis\n" +
		"- Color, composition, and aesthetic evaluation\n" +
		"- Technical image properties\n\n" +
		"When analyzing images, be specific and detailed.",
}

var Audio = Detector{
	keywords: []string{
		"audio", "voice", "sound", "listen", "hear",
		"recording", "speech", "transcribe", "speak", "talk",
	},
	contextTag: "audio",
	enhancement: "\n\nAUDIO ANALYSIS ACTIVE:\n" +
		"You can process audio files and voice messages with these capabilities:\n" +
		"- Speech transcription and voice recognition\n" +
		"- Voice pattern and tone analysis\n" +
		"- Audio quality assessment\n" +
		"- Background sound identification\n" +
		"- Language detection\n\n" +
		"When processing audio, provide clear transcription and analysis.",
}

var Video = Detector{
	keywords: []string{
		"video", "clip", "footage", "watch", "playback",
		"recording", "screen recording", "demo", "tutorial",
	},
	contextTag: "video",
	enhancement: "\n\nVIDEO ANALYSIS ACTIVE:\n" +
		"You can analyze video content with these capabilities:\n" +
		"- Frame-by-frame visual analysis\n" +
		"- Motion and action detection\n" +
		"- Scene changes and transitions\n" +
		"- Text and object recognition in video\n" +
		"- Audio track analysis (if present)\n" +
		"- Content summarization\n\n" +
		"When analyzing video, describe key scenes, actions, and any important visual or audio elements.",
}
