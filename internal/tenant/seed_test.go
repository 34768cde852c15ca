package tenant

import (
	"context"
	"testing"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
tenants:
  - id: salon-bella
    name: Salon Bella
    business_type: salon
    address: "whatsapp:+33 1 00 00 00 00"
    timezone: Europe/Paris
    services:
      - id: coupe
        name: Coupe femme
        duration_minutes: 45
    business_hours:
      - {day: 1, open: "09:00", close: "18:00"}
    faqs:
      - id: horaires
        question: Quels sont vos horaires?
        answer: Du lundi au samedi de 9h à 18h.
        keywords: [horaires, heures, ouvert]
        active: true
`

func TestParseProfiles(t *testing.T) {
	profiles, err := ParseProfiles([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	p := profiles[0]
	assert.Equal(t, "+33100000000", p.Address)
	assert.Equal(t, "fr", p.Language)
	assert.Equal(t, 45, p.Services[0].DurationMinutes)
	assert.Equal(t, []string{"horaires", "heures", "ouvert"}, p.FAQs[0].Keywords)

	st := store.NewInMemoryStore()
	require.NoError(t, Seed(context.Background(), st, profiles))
	got, err := NewDirectory(st).Resolve(context.Background(), "+33100000000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "salon-bella", got.ID)
}

func TestParseProfilesRejectsInvalid(t *testing.T) {
	_, err := ParseProfiles([]byte("tenants:\n  - id: x\n    address: ''\n"))
	assert.Error(t, err)
	_, err = ParseProfiles([]byte("tenants:\n  - id: x\n    address: '+1'\n    timezone: Mars/Olympus\n"))
	assert.Error(t, err)
	_, err = ParseProfiles([]byte("tenants:\n  - id: a\n    address: '+1'\n  - id: b\n    address: '1'\n"))
	assert.Error(t, err)
}
