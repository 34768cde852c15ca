package flow

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/textnorm"
)

const dateLayout = "2006-01-02"

var (
	// ErrPastDate is returned for a date strictly before today.
	ErrPastDate = errors.New("date is in the past")
	// ErrUnrecognizedDate is returned when no date expression is found.
	ErrUnrecognizedDate = errors.New("unrecognized date")
	// ErrUnrecognizedTime is returned when no time of day is found.
	ErrUnrecognizedTime = errors.New("unrecognized time")
)

var (
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})(?:[/.-](\d{2}|\d{4}))?\b`)
	timeRe        = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:heures?|h|:)\s*(\d{2})?\b`)
	bareHourRe    = regexp.MustCompile(`^\s*(?:a\s+)?(\d{1,2})\s*$`)
)

var monthNames = map[string]time.Month{
	"janvier": time.January, "janv": time.January, "january": time.January, "jan": time.January,
	"fevrier": time.February, "fevr": time.February, "fev": time.February, "february": time.February, "feb": time.February,
	"mars": time.March, "march": time.March, "mar": time.March,
	"avril": time.April, "avr": time.April, "april": time.April, "apr": time.April,
	"mai": time.May, "may": time.May,
	"juin": time.June, "june": time.June, "jun": time.June,
	"juillet": time.July, "juil": time.July, "july": time.July, "jul": time.July,
	"aout": time.August, "august": time.August, "aug": time.August,
	"septembre": time.September, "sept": time.September, "september": time.September, "sep": time.September,
	"octobre": time.October, "oct": time.October, "october": time.October,
	"novembre": time.November, "nov": time.November, "november": time.November,
	"decembre": time.December, "dec": time.December, "december": time.December,
}

var weekdayNames = map[string]time.Weekday{
	"dimanche": time.Sunday, "sunday": time.Sunday,
	"lundi": time.Monday, "monday": time.Monday,
	"mardi": time.Tuesday, "tuesday": time.Tuesday,
	"mercredi": time.Wednesday, "wednesday": time.Wednesday,
	"jeudi": time.Thursday, "thursday": time.Thursday,
	"vendredi": time.Friday, "friday": time.Friday,
	"samedi": time.Saturday, "saturday": time.Saturday,
}

var frenchWeekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}

var frenchMonths = [...]string{"", "janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"}

// Today returns midnight of now's day in now's location.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// ParseDate resolves a French or English date expression against now, which
// must already be in the tenant timezone. Relative words and weekday names
// are relative to today; a weekday resolves to its next occurrence after
// today. Dates without a year use the current year and dates without a month
// use the current month. A date before today returns ErrPastDate along with
// the resolved date.
func ParseDate(input string, now time.Time) (time.Time, error) {
	today := Today(now)
	d, err := resolveDate(input, today)
	if err != nil {
		return time.Time{}, err
	}
	if d.Before(today) {
		return d, ErrPastDate
	}
	return d, nil
}

func resolveDate(input string, today time.Time) (time.Time, error) {
	if m := isoDateRe.FindStringSubmatch(input); m != nil {
		return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), today.Location())
	}
	if m := numericDateRe.FindStringSubmatch(input); m != nil {
		year := today.Year()
		if m[3] != "" {
			year = atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		return buildDate(year, atoi(m[2]), atoi(m[1]), today.Location())
	}

	norm := textnorm.Normalize(input)
	switch {
	case textnorm.ContainsAny(norm, "apres demain", "apres-demain", "day after tomorrow"):
		return today.AddDate(0, 0, 2), nil
	case textnorm.ContainsAny(norm, "aujourd hui", "aujourdhui", "ce jour", "today"):
		return today, nil
	case textnorm.ContainsAny(norm, "demain", "tomorrow"):
		return today.AddDate(0, 0, 1), nil
	}

	tokens := strings.Fields(norm)
	for i, tok := range tokens {
		month, ok := monthNames[tok]
		if !ok || i == 0 {
			continue
		}
		day, ok := dayNumber(tokens[i-1])
		if !ok {
			continue
		}
		year := today.Year()
		if i+1 < len(tokens) {
			if y, err := strconv.Atoi(tokens[i+1]); err == nil && y >= 2000 && y < 2100 {
				year = y
			}
		}
		return buildDate(year, int(month), day, today.Location())
	}

	for _, tok := range tokens {
		if wd, ok := weekdayNames[tok]; ok {
			delta := (int(wd) - int(today.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			return today.AddDate(0, 0, delta), nil
		}
	}

	for i, tok := range tokens {
		if tok != "le" || i+1 >= len(tokens) {
			continue
		}
		if day, ok := dayNumber(tokens[i+1]); ok {
			return buildDate(today.Year(), int(today.Month()), day, today.Location())
		}
	}
	return time.Time{}, ErrUnrecognizedDate
}

func dayNumber(tok string) (int, bool) {
	tok = strings.TrimSuffix(tok, "er")
	day, err := strconv.Atoi(tok)
	if err != nil || day < 1 || day > 31 {
		return 0, false
	}
	return day, true
}

func buildDate(year, month, day int, loc *time.Location) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, ErrUnrecognizedDate
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if d.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %d/%d does not exist", ErrUnrecognizedDate, day, month)
	}
	return d, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ParseTime extracts a time of day as HH:MM ("14h", "14h30", "9:15", "midi").
func ParseTime(input string) (string, error) {
	norm := textnorm.Normalize(input)
	switch {
	case textnorm.ContainsAny(norm, "midi", "noon"):
		return "12:00", nil
	case textnorm.ContainsAny(norm, "minuit", "midnight"):
		return "00:00", nil
	}

	var hour, minute int
	if m := timeRe.FindStringSubmatch(input); m != nil {
		hour = atoi(m[1])
		if m[2] != "" {
			minute = atoi(m[2])
		}
	} else if m := bareHourRe.FindStringSubmatch(norm); m != nil {
		hour = atoi(m[1])
	} else {
		return "", ErrUnrecognizedTime
	}
	if hour > 23 || minute > 59 {
		return "", ErrUnrecognizedTime
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// minutesOf converts HH:MM to minutes after midnight.
func minutesOf(hhmm string) (int, bool) {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 24 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

func formatMinutes(total int) string {
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FormatDate renders a date in French, e.g. "lundi 12 janvier".
func FormatDate(d time.Time) string {
	return fmt.Sprintf("%s %d %s", frenchWeekdays[d.Weekday()], d.Day(), frenchMonths[d.Month()])
}
