package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cedbot/internal/domain"
)

func TestDefaultPersona(t *testing.T) {
	p := Default()
	if p.Identity == "" || p.Logic == "" {
		t.Fatal("default persona must have identity and logic")
	}
	if !p.Capabilities.Vision.Enabled || !p.Capabilities.Audio.Enabled || !p.Capabilities.Video.Enabled {
		t.Error("default persona should enable all modalities")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.yaml")
	content := `name: TestBot
identity: A test assistant
logic: Testing domain knowledge
capabilities:
  vision:
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Name != "TestBot" {
		t.Errorf("name = %q, want TestBot", p.Name)
	}
	if p.Identity != "A test assistant" {
		t.Errorf("identity = %q", p.Identity)
	}
	if p.Capabilities.Vision.Enabled {
		t.Error("vision should be disabled by the file")
	}
	// Unset fields keep defaults.
	if !p.Capabilities.Audio.Enabled {
		t.Error("audio should keep the default enabled state")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCompose(t *testing.T) {
	p := Persona{Identity: "Ident", Logic: "Know"}
	got := Compose(p)
	for _, want := range []string{
		"PRIMARY IDENTITY: Ident",
		"KNOWLEDGE BASE: Know",
		"COMMUNICATION PROTOCOL:",
		"NO BOT-TALK",
		"NO THEATRE",
		"BREVITY: 93% efficiency",
		"CANDOR",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("composed prompt missing %q", want)
		}
	}
}

func TestDetectorIsRequest(t *testing.T) {
	cases := []struct {
		det  Detector
		text string
		want bool
	}{
		{Vision, "look at this PICTURE please", true},
		{Vision, "hello there", false},
		{Audio, "can you transcribe this", true},
		{Audio, "", false},
		{Video, "watch this screen recording", true},
		{Video, "plain text", false},
	}
	for _, c := range cases {
		if got := c.det.IsRequest(c.text); got != c.want {
			t.Errorf("IsRequest(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestBuildPromptContext(t *testing.T) {
	out := Audio.BuildPrompt("base", "a voicemail")
	if !strings.HasPrefix(out, "base") {
		t.Error("base prompt must come first")
	}
	if !strings.Contains(out, "AUDIO ANALYSIS ACTIVE") {
		t.Error("missing audio enhancement block")
	}
	if !strings.Contains(out, "Current audio context: a voicemail") {
		t.Error("missing context line")
	}
	if strings.Contains(Audio.BuildPrompt("base", ""), "Current audio context") {
		t.Error("empty context must not add a context line")
	}
}

func TestSystemPromptAttachmentTrigger(t *testing.T) {
	p := Default()
	att := &domain.Attachment{Kind: domain.AttachmentImage, MediaType: "image/jpeg"}
	got := SystemPrompt(p, "no trigger words here", att)
	if !strings.Contains(got, "VISION ANALYSIS ACTIVE") {
		t.Error("image attachment should activate vision")
	}
	if strings.Contains(got, "AUDIO ANALYSIS ACTIVE") || strings.Contains(got, "VIDEO ANALYSIS ACTIVE") {
		t.Error("other modalities should stay inactive")
	}
}

func TestSystemPromptKeywordTrigger(t *testing.T) {
	p := Default()
	got := SystemPrompt(p, "please transcribe the voice note", nil)
	if !strings.Contains(got, "AUDIO ANALYSIS ACTIVE") {
		t.Error("keyword should activate audio without an attachment")
	}
}

func TestSystemPromptDisabledCapability(t *testing.T) {
	p := Default()
	p.Capabilities.Vision.Enabled = false
	att := &domain.Attachment{Kind: domain.AttachmentImage}
	if strings.Contains(SystemPrompt(p, "", att), "VISION ANALYSIS ACTIVE") {
		t.Error("disabled capability must not be injected")
	}
}

func TestSystemPromptAppendsOnce(t *testing.T) {
	p := Default()
	att := &domain.Attachment{Kind: domain.AttachmentAudio}
	got := SystemPrompt(p, "listen to this audio recording", att)
	if n := strings.Count(got, "AUDIO ANALYSIS ACTIVE"); n != 1 {
		t.Errorf("audio block appended %d times, want 1", n)
	}
}
