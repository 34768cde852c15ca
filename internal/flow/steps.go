package flow

import (
	"context"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/textnorm"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	affirmatives = []string{"oui", "ouais", "yes", "ok", "okay", "d accord", "daccord", "exact", "exactement", "c est ca", "c est bien ca", "parfait", "je confirme", "confirme", "bien sur", "tout a fait", "correct", "yep"}
	negatives    = []string{"non", "no", "nope", "pas du tout", "ce n est pas", "c est pas"}
)

// IsAffirmative reports whether input is a yes.
func IsAffirmative(input string) bool {
	return textnorm.ContainsAny(input, affirmatives...) && !IsNegative(input)
}

// IsNegative reports whether input is a no.
func IsNegative(input string) bool {
	return textnorm.ContainsAny(input, negatives...)
}

// textStep collects free text of a minimum length.
type textStep struct {
	key       string
	prompt    string
	minLen    int
	errMsg    string
	next      string
	// skippable steps accept a negative answer as "no value".
	skippable bool
}

func (s textStep) Key() string { return s.key }

func (s textStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	return s.prompt, nil
}

func (s textStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	text := strings.TrimSpace(input)
	if s.skippable && (IsNegative(text) || textnorm.ContainsAny(text, "je ne sais pas", "aucune idee", "passer", "skip")) {
		return Accept(""), nil
	}
	if utf8.RuneCountInString(text) < s.minLen {
		return Invalid(s.errMsg), nil
	}
	return Accept(text), nil
}

func (s textStep) Next(Data) string { return s.next }

// nameStep collects the customer name. When the conversation already knows a
// name, an affirmative answer confirms it instead of being taken as a name.
type nameStep struct {
	key  string
	next string
}

func (s nameStep) Key() string { return s.key }

func (s nameStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	if name := knownName(fc); name != "" {
		return "C'est bien au nom de " + name + " ? Répondez oui, ou indiquez un autre nom.", nil
	}
	return "À quel nom dois-je l'enregistrer ?", nil
}

func (s nameStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	text := strings.TrimSpace(input)
	if rest, affirmed := splitAffirmative(text); affirmed {
		if rest == "" {
			known := knownName(fc)
			if known == "" {
				return Invalid("Merci de m'indiquer votre nom."), nil
			}
			return Accept(known), nil
		}
		// "Oui c'est Marie": the name that follows wins over the known one.
		text = rest
	}
	if textnorm.Normalize(text) == "non" {
		return Invalid("Pas de souci, quel nom dois-je indiquer ?"), nil
	}
	name := cleanName(text)
	if name == "" {
		return Invalid("Je n'ai pas compris le nom. Pouvez-vous l'écrire, par exemple « Marie Dupont » ?"), nil
	}
	return Accept(name), nil
}

func (s nameStep) Next(Data) string { return s.next }

// courtesies are dropped around a yes, so "oui merci" is still a bare yes.
var courtesies = []string{"merci", "merci beaucoup", "svp", "s il vous plait", "s il te plait", "c est moi", "c est bien moi", "bien"}

// splitAffirmative removes the affirmative words opening text, and the
// courtesies around them. affirmed is false when text does not open with a
// yes; rest is then text unchanged.
func splitAffirmative(text string) (rest string, affirmed bool) {
	words := strings.Fields(text)
	skip := func(words []string, fromEnd bool, phrases ...[]string) int {
		for n := min(3, len(words)); n > 0; n-- {
			part := words[:n]
			if fromEnd {
				part = words[len(words)-n:]
			}
			norm := textnorm.Normalize(strings.Join(part, " "))
			for _, list := range phrases {
				if slices.Contains(list, norm) {
					return n
				}
			}
		}
		return 0
	}
	for len(words) > 0 {
		n := skip(words, false, affirmatives, courtesies)
		if n == 0 {
			break
		}
		if !affirmed {
			affirmed = skip(words[:n], false, affirmatives) == n
		}
		words = words[n:]
	}
	if !affirmed {
		return text, false
	}
	for len(words) > 0 {
		n := skip(words, true, affirmatives, courtesies)
		if n == 0 {
			break
		}
		words = words[:len(words)-n]
	}
	return strings.Trim(strings.Join(words, " "), " .!,"), true
}

func knownName(fc *Context) string {
	if fc == nil || fc.Conversation == nil {
		return ""
	}
	return strings.TrimSpace(fc.Conversation.CustomerName)
}

// cleanName strips lead-ins like "c'est" or "je m'appelle" and checks the rest
// looks like a person name.
func cleanName(text string) string {
	lower := strings.ToLower(text)
	for _, prefix := range []string{"non, ", "non ", "je m'appelle ", "je m’appelle ", "je suis ", "c'est ", "c’est ", "au nom de ", "mon nom est ", "moi c'est "} {
		if strings.HasPrefix(lower, prefix) {
			text = text[len(prefix):]
			lower = lower[len(prefix):]
		}
	}
	text = strings.Trim(strings.TrimSpace(text), ".!,")
	n := utf8.RuneCountInString(text)
	if n < 2 || n > 60 {
		return ""
	}
	letters := 0
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			return ""
		case r == ' ' || r == '-' || r == '\'' || r == '’' || r == '.':
		default:
			return ""
		}
	}
	if letters < 2 {
		return ""
	}
	return text
}

// emailStep collects a syntactically valid email address.
type emailStep struct {
	key    string
	prompt string
	next   string
}

func (s emailStep) Key() string { return s.key }

func (s emailStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	return s.prompt, nil
}

func (s emailStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	email := extractEmail(input)
	if err := validate.Var(email, "required,email"); err != nil {
		return Invalid("Cette adresse email ne semble pas valide. Pouvez-vous la vérifier ? (ex : nom@exemple.fr)"), nil
	}
	return Accept(strings.ToLower(email)), nil
}

func (s emailStep) Next(Data) string { return s.next }

func extractEmail(input string) string {
	for _, field := range strings.Fields(input) {
		if strings.Contains(field, "@") {
			return strings.Trim(field, ".,;:!?()<>\"'")
		}
	}
	return strings.TrimSpace(input)
}

// phoneStep collects a phone number in E.164 form. A negative answer skips it.
type phoneStep struct {
	key  string
	next string
}

func (s phoneStep) Key() string { return s.key }

func (s phoneStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	return "Un numéro de téléphone pour vous rappeler ? (ou répondez « non »)", nil
}

func (s phoneStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	if IsNegative(input) || textnorm.ContainsAny(input, "passer", "pas de numero", "ce numero", "ce numéro", "celui ci") {
		if textnorm.ContainsAny(input, "ce numero", "celui ci") && fc != nil && fc.Conversation != nil {
			return Accept(fc.Conversation.CustomerAddress), nil
		}
		return Accept(""), nil
	}
	phone := NormalizePhone(input)
	if err := validate.Var(phone, "required,e164"); err != nil {
		return Invalid("Ce numéro ne semble pas valide. Exemple : 06 12 34 56 78 ou +33 6 12 34 56 78."), nil
	}
	return Accept(phone), nil
}

func (s phoneStep) Next(Data) string { return s.next }

// NormalizePhone converts a French or international number to E.164. Numbers
// starting with a single 0 are treated as French.
func NormalizePhone(input string) string {
	var digits strings.Builder
	plus := false
	for i, r := range strings.TrimSpace(input) {
		switch {
		case r == '+' && i == 0:
			plus = true
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case plus:
		return "+" + d
	case strings.HasPrefix(d, "00"):
		return "+" + d[2:]
	case len(d) == 10 && strings.HasPrefix(d, "0"):
		return "+33" + d[1:]
	case d == "":
		return ""
	}
	return "+" + d
}

// confirmStep asks for a yes/no on a summary of the collected data.
type confirmStep struct {
	key     string
	summary func(fc *Context, data Data) string
}

func (s confirmStep) Key() string { return s.key }

func (s confirmStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	return s.summary(fc, data) + "\nJe confirme ? (oui / non)", nil
}

func (s confirmStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	switch {
	case IsNegative(input):
		return Accept("no"), nil
	case IsAffirmative(input):
		return Accept("yes"), nil
	}
	return Invalid("Répondez simplement « oui » pour confirmer ou « non » pour abandonner."), nil
}

func (s confirmStep) Next(Data) string { return "" }
