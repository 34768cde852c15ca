// Package tone provides a fixed whitelist of reply style tags, per business
// type defaults, mutual-exclusion enforcement and prompt-guide construction.
package tone

import (
	"strings"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/textnorm"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of safe tone tags.
var AllTags = map[string]bool{
	// Style
	"concise":       true,
	"detailed":      true,
	"formal":        true,
	"casual":        true,
	"no_emojis":     true,
	"emojis_ok":     true,
	"bullet_points": true,
	// Stance
	"warm":                 true,
	"neutral_professional": true,
	// Interaction
	"one_question_at_a_time": true,
	"propose_next_step":      true,
}

// mutuallyExclusivePairs defines tags where at most one may be active.
// The tag listed first by the caller wins.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"no_emojis", "emojis_ok"},
	{"warm", "neutral_professional"},
}

// businessDefaults maps business type keywords to default tags.
var businessDefaults = []struct {
	keywords []string
	tags     []string
}{
	{[]string{"salon", "coiffure", "coiffeur", "beaute", "esthetique", "spa", "barbier"}, []string{"casual", "warm", "emojis_ok", "concise"}},
	{[]string{"restaurant", "bar", "cafe", "traiteur", "boulangerie"}, []string{"casual", "warm", "emojis_ok", "propose_next_step"}},
	{[]string{"avocat", "notaire", "cabinet", "comptable", "assurance", "banque"}, []string{"formal", "neutral_professional", "no_emojis", "detailed"}},
	{[]string{"boutique", "ecommerce", "e commerce", "magasin", "shop"}, []string{"concise", "warm", "bullet_points", "propose_next_step"}},
	{[]string{"artisan", "plombier", "electricien", "renovation", "batiment", "garage"}, []string{"concise", "neutral_professional", "one_question_at_a_time"}},
}

var fallbackTags = []string{"concise", "neutral_professional", "no_emojis"}

// ---- Public API ----

// Validate strips unknown and duplicate tags and enforces mutual exclusion.
func Validate(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if !AllTags[t] || seen[t] || excluded(seen, t) {
			continue
		}
		out = append(out, t)
		seen[t] = true
	}
	return out
}

func excluded(active map[string]bool, tag string) bool {
	for _, pair := range mutuallyExclusivePairs {
		if (pair[0] == tag && active[pair[1]]) || (pair[1] == tag && active[pair[0]]) {
			return true
		}
	}
	return false
}

// Resolve returns the tags for a tenant: its configured tags when any are
// valid, otherwise the defaults for its business type.
func Resolve(businessType string, configured []string) []string {
	if tags := Validate(configured); len(tags) > 0 {
		return tags
	}
	for _, d := range businessDefaults {
		if textnorm.ContainsAny(businessType, d.keywords...) {
			return Validate(d.tags)
		}
	}
	return Validate(fallbackTags)
}

// Guide produces a compact instruction snippet for system prompts.
// It returns an empty string when there are no tags.
func Guide(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\nStyle des réponses :\n")

	// Style rules.
	if set["concise"] {
		b.WriteString("- Sois concis : phrases courtes, pas de remplissage.\n")
	}
	if set["detailed"] {
		b.WriteString("- Donne un peu plus d'explications, sans digresser.\n")
	}
	if set["formal"] {
		b.WriteString("- Vouvoie le client et garde un registre soutenu.\n")
	}
	if set["casual"] {
		b.WriteString("- Ton chaleureux et simple, vouvoiement léger.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- N'utilise pas d'emojis.\n")
	} else if set["emojis_ok"] {
		b.WriteString("- Un emoji de temps en temps est bienvenu.\n")
	}
	if set["bullet_points"] {
		b.WriteString("- Utilise des listes à puces pour énumérer.\n")
	}

	// Stance rules.
	switch {
	case set["warm"]:
		b.WriteString("- Sois accueillant et bienveillant.\n")
	default:
		b.WriteString("- Reste neutre et professionnel.\n")
	}

	// Interaction rules.
	if set["one_question_at_a_time"] {
		b.WriteString("- Pose une seule question à la fois.\n")
	}
	if set["propose_next_step"] {
		b.WriteString("- Termine par une proposition concrète (réserver, demander un devis…).\n")
	}

	b.WriteString("- Ne reprends jamais d'insultes ou de propos agressifs.\n")
	return b.String()
}
