package persona

import (
	"strings"

	"cedbot/internal/domain"
)

// Compose renders the base system prompt from a persona.
func Compose(p Persona) string {
	var b strings.Builder
	b.WriteString("PRIMARY IDENTITY: ")
	b.WriteString(p.Identity)
	b.WriteString("\nKNOWLEDGE BASE: ")
	b.WriteString(p.Logic)
	b.WriteString("\nCOMMUNICATION PROTOCOL:\n")
	b.WriteString("- NO BOT-TALK: No \"As an AI\", no \"I understand.\"\n")
	b.WriteString("- NO THEATRE: No polite filler or \"professional agent\" tone.\n")
	b.WriteString("- BREVITY: 93% efficiency. If it can be said in 5 words, don't use 10.\n")
	b.WriteString("- CANDOR: Speak peer-to-peer, engineer-to-engineer.")
	return b.String()
}

// SystemPrompt builds the full system prompt for one request: the composed
// persona base plus any capability enhancements triggered by the attachment
// or by keywords in the user text. Each enabled capability appends at most
// once, in vision, audio, video order.
func SystemPrompt(p Persona, text string, att *domain.Attachment) string {
	prompt := Compose(p)

	hasKind := func(kind domain.AttachmentKind) bool {
		return att != nil && att.Kind == kind
	}

	if p.Capabilities.Vision.Enabled && (hasKind(domain.AttachmentImage) || Vision.IsRequest(text)) {
		prompt = Vision.BuildPrompt(prompt, "")
	}
	if p.Capabilities.Audio.Enabled && (hasKind(domain.AttachmentAudio) || Audio.IsRequest(text)) {
		prompt = Audio.BuildPrompt(prompt, "")
	}
	if p.Capabilities.Video.Enabled && (hasKind(domain.AttachmentVideo) || Video.IsRequest(text)) {
		prompt = Video.BuildPrompt(prompt, "")
	}
	return prompt
}
