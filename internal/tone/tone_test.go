package tone

import (
	"strings"
	"testing"
)

func TestValidate_StripsUnknownTags(t *testing.T) {
	tags := Validate([]string{"concise", "UNKNOWN", "formal", "  warm  ", "injected_tag", "concise"})
	for _, tag := range tags {
		if !AllTags[tag] {
			t.Errorf("unexpected tag in cleaned list: %q", tag)
		}
	}
	if len(tags) != 3 { // concise, formal, warm
		t.Errorf("expected 3 tags, got %d: %v", len(tags), tags)
	}
}

func TestValidate_MutualExclusionKeepsFirst(t *testing.T) {
	tags := Validate([]string{"casual", "formal", "no_emojis", "emojis_ok"})
	want := []string{"casual", "no_emojis"}
	if strings.Join(tags, ",") != strings.Join(want, ",") {
		t.Errorf("Validate = %v, want %v", tags, want)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		businessType string
		configured   []string
		want         string
	}{
		{"configured wins", "Salon de coiffure", []string{"formal"}, "formal"},
		{"salon defaults", "Salon de coiffure", nil, "casual,warm,emojis_ok,concise"},
		{"accents ignored", "Cabinet d'avocats", nil, "formal,neutral_professional,no_emojis,detailed"},
		{"invalid configured falls back", "Beauté", []string{"bogus"}, "casual,warm,emojis_ok,concise"},
		{"unknown type", "Agence spatiale", nil, "concise,neutral_professional,no_emojis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(Resolve(tt.businessType, tt.configured), ","); got != tt.want {
				t.Errorf("Resolve(%q, %v) = %s, want %s", tt.businessType, tt.configured, got, tt.want)
			}
		})
	}
}

func TestGuide_Empty(t *testing.T) {
	if g := Guide(nil); g != "" {
		t.Errorf("expected empty guide, got %q", g)
	}
}

func TestGuide_Rules(t *testing.T) {
	g := Guide([]string{"formal", "no_emojis", "one_question_at_a_time"})
	for _, want := range []string{"Vouvoie", "pas d'emojis", "une seule question", "neutre et professionnel"} {
		if !strings.Contains(g, want) {
			t.Errorf("guide missing %q:\n%s", want, g)
		}
	}
	if strings.Contains(g, "emoji de temps en temps") {
		t.Error("no_emojis must suppress the emojis_ok rule")
	}
}
