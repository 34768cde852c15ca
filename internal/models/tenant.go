package models

// FAQ is one tenant question/answer pair. Read-only input to the matcher.
type FAQ struct {
	ID       string   `json:"id" yaml:"id"`
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Category string   `json:"category,omitempty" yaml:"category"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
	Active   bool     `json:"active" yaml:"active"`
}

// Service is a bookable tenant service.
type Service struct {
	ID              string  `json:"id" yaml:"id"`
	Name            string  `json:"name" yaml:"name"`
	DurationMinutes int     `json:"duration_minutes" yaml:"duration_minutes"`
	Price           float64 `json:"price,omitempty" yaml:"price"`
}

// BusinessHours are the opening hours for one weekday.
// Day uses time.Weekday numbering (0 = Sunday). Open and Close are HH:MM.
type BusinessHours struct {
	Day   int    `json:"day" yaml:"day"`
	Open  string `json:"open" yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

// TenantProfile is everything the engine needs to answer on behalf of a tenant.
type TenantProfile struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	BusinessType  string          `json:"business_type" yaml:"business_type"`
	Address       string          `json:"address" yaml:"address"`
	Timezone      string          `json:"timezone" yaml:"timezone"`
	Language      string          `json:"language,omitempty" yaml:"language"`
	FAQs          []FAQ           `json:"faqs" yaml:"faqs"`
	Services      []Service       `json:"services" yaml:"services"`
	BusinessHours []BusinessHours `json:"business_hours" yaml:"business_hours"`
	// Tone lists reply style tags; empty uses the business type defaults.
	Tone          []string        `json:"tone,omitempty" yaml:"tone"`
}

// ActiveFAQs returns the FAQs with the active flag set, preserving order.
func (t *TenantProfile) ActiveFAQs() []FAQ {
	out := make([]FAQ, 0, len(t.FAQs))
	for _, f := range t.FAQs {
		if f.Active {
			out = append(out, f)
		}
	}
	return out
}

// HoursFor returns the opening hours for the given weekday, if any.
func (t *TenantProfile) HoursFor(day int) (BusinessHours, bool) {
	for _, h := range t.BusinessHours {
		if h.Day == day {
			return h, true
		}
	}
	return BusinessHours{}, false
}
