package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Quels sont vos horaires?":   "quels sont vos horaires",
		"  Été,   RÉSERVATION !! ":   "ete reservation",
		"après-demain":               "apres demain",
		"C'est l'heure":              "c est l heure",
		"":                           "",
		"12/01/2026":                 "12 01 2026",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestContentTokensDropsStopwords(t *testing.T) {
	assert.Equal(t, []string{"quels", "horaires"}, ContentTokens("Quels sont vos horaires ?"))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard(Tokens("Quels sont vos horaires?"), Tokens("quels sont vos horaires")), 1e-9)
	assert.InDelta(t, 0.5, Jaccard([]string{"a", "b"}, []string{"b", "c", "a", "d"}), 1e-9)
	assert.Zero(t, Jaccard(nil, nil))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("Je veux ANNULER svp", "annuler"))
	assert.True(t, ContainsAny("arrêter", "arreter"))
	assert.False(t, ContainsAny("stopper", "stop"))
}
