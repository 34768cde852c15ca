package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/textnorm"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/util"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	// SlotInterval is the spacing of offered appointment slots, in minutes.
	SlotInterval = 30
	// MaxBookingHorizonDays bounds how far ahead a booking may be made.
	MaxBookingHorizonDays = 180

	defaultOpen        = "09:00"
	defaultClose       = "18:00"
	defaultDuration    = 30
	maxOfferedSlots    = 8
	bookingStepService = "service"
	bookingStepDate    = "date"
	bookingStepTime    = "time"
	bookingStepName    = "name"
	bookingStepConfirm = "confirm"
)

// BookingStore is what the booking flow needs from persistence.
type BookingStore interface {
	ListBookedSlots(ctx context.Context, tenantID, date string) ([]models.BookedSlot, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
}

// bookingRecord is the typed view of booking flow data.
type bookingRecord struct {
	ServiceID string
	Date      string
	Time      string
	Name      string
	Confirmed bool
}

func bookingFromData(d Data) bookingRecord {
	return bookingRecord{
		ServiceID: d.String(bookingStepService),
		Date:      d.String(bookingStepDate),
		Time:      d.String(bookingStepTime),
		Name:      d.String(bookingStepName),
		Confirmed: d.String(bookingStepConfirm) == "yes",
	}
}

// BookingFlow declares the appointment dialogue:
// service -> date -> time -> name -> confirm.
func BookingFlow(st BookingStore) Definition {
	return Definition{
		Type:        models.FlowTypeBooking,
		MaxAttempts: DefaultMaxAttempts,
		Start:       bookingStepService,
		Steps: map[string]Step{
			bookingStepService: serviceStep{},
			bookingStepDate:    dateStep{},
			bookingStepTime:    timeStep{store: st},
			bookingStepName:    nameStep{key: bookingStepName, next: bookingStepConfirm},
			bookingStepConfirm: confirmStep{key: bookingStepConfirm, summary: bookingSummary},
		},
		OnComplete: func(ctx context.Context, data Data, fc *Context) (string, error) {
			return completeBooking(ctx, st, bookingFromData(data), fc)
		},
		OnCancel: func(ctx context.Context, data Data, fc *Context) string {
			return "D'accord, j'annule la prise de rendez-vous. Je reste disponible si besoin."
		},
		Escalation: "Je n'arrive pas à finaliser votre rendez-vous. Un membre de l'équipe va vous recontacter rapidement.",
	}
}

func completeBooking(ctx context.Context, st BookingStore, rec bookingRecord, fc *Context) (string, error) {
	if !rec.Confirmed {
		return "Très bien, je n'ai rien réservé. N'hésitez pas si vous souhaitez un autre créneau.", nil
	}
	start, ok := minutesOf(rec.Time)
	if !ok {
		return "", fmt.Errorf("booking time %q", rec.Time)
	}
	duration := serviceDuration(fc.Tenant, rec.ServiceID)
	booked, err := st.ListBookedSlots(ctx, fc.Tenant.ID, rec.Date)
	if err != nil {
		return "", err
	}
	if overlapsBooking(fc.Tenant, booked, start, duration) {
		return "Désolé, ce créneau vient juste d'être pris. Écrivez-moi pour en choisir un autre.", nil
	}

	svc := findService(fc.Tenant, rec.ServiceID)
	b := &models.Booking{
		Reference:       util.GenerateBookingReference(),
		TenantID:        fc.Tenant.ID,
		ConversationID:  fc.Conversation.ID,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		Date:            rec.Date,
		Time:            rec.Time,
		DurationMinutes: duration,
		CustomerName:    rec.Name,
		CustomerAddress: fc.Conversation.CustomerAddress,
		CreatedAt:       fc.Now,
	}
	if err := st.CreateBooking(ctx, b); err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	if fc.Conversation.CustomerName == "" {
		fc.Conversation.CustomerName = rec.Name
	}
	return fmt.Sprintf("C'est réservé ! %s le %s à %s au nom de %s. Votre référence : %s.",
		svc.Name, formatISODate(rec.Date, fc.Now.Location()), rec.Time, rec.Name, b.Reference), nil
}

func bookingSummary(fc *Context, data Data) string {
	rec := bookingFromData(data)
	svc := findService(fc.Tenant, rec.ServiceID)
	return fmt.Sprintf("Je récapitule : %s le %s à %s, au nom de %s.",
		svc.Name, formatISODate(rec.Date, fc.Now.Location()), rec.Time, rec.Name)
}

func formatISODate(iso string, loc *time.Location) string {
	d, err := time.ParseInLocation(dateLayout, iso, loc)
	if err != nil {
		return iso
	}
	return FormatDate(d)
}

// findService resolves a stored service id. Tenants without a catalogue
// store the free-text answer, which becomes the service name.
func findService(t *models.TenantProfile, id string) models.Service {
	if t != nil {
		for _, s := range t.Services {
			if s.ID == id || (s.ID == "" && s.Name == id) {
				return s
			}
		}
	}
	return models.Service{Name: id}
}

type serviceStep struct{}

func (serviceStep) Key() string { return bookingStepService }

func (serviceStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	if len(fc.Tenant.Services) == 0 {
		return "Avec plaisir ! Pour quelle prestation souhaitez-vous prendre rendez-vous ?", nil
	}
	var b strings.Builder
	b.WriteString("Avec plaisir ! Quelle prestation souhaitez-vous ?\n")
	for i, s := range fc.Tenant.Services {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Name)
		switch {
		case s.DurationMinutes > 0 && s.Price > 0:
			fmt.Fprintf(&b, " (%d min, %s €)", s.DurationMinutes, formatPrice(s.Price))
		case s.DurationMinutes > 0:
			fmt.Fprintf(&b, " (%d min)", s.DurationMinutes)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (serviceStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	services := fc.Tenant.Services
	if len(services) == 0 {
		text := strings.TrimSpace(input)
		if len([]rune(text)) < 2 {
			return Invalid("Pouvez-vous préciser la prestation souhaitée ?"), nil
		}
		return Accept(text), nil
	}
	idx := MatchService(input, services)
	if idx < 0 {
		return Invalid("Je n'ai pas reconnu la prestation. Répondez avec son numéro ou son nom."), nil
	}
	s := services[idx]
	if s.ID == "" {
		return Accept(s.Name), nil
	}
	return Accept(s.ID), nil
}

func (serviceStep) Next(Data) string { return bookingStepDate }

// MatchService returns the index of the service designated by input, by list
// number, by name or by fuzzy match on the name, or -1.
func MatchService(input string, services []models.Service) int {
	norm := textnorm.Normalize(input)
	if n, err := strconv.Atoi(norm); err == nil {
		if n >= 1 && n <= len(services) {
			return n - 1
		}
		return -1
	}

	names := make([]string, len(services))
	for i, s := range services {
		names[i] = textnorm.Normalize(s.Name)
	}

	// Longest name fully contained in the message wins.
	best, bestLen := -1, 0
	for i, name := range names {
		if name != "" && textnorm.ContainsAny(norm, name) && len(name) > bestLen {
			best, bestLen = i, len(name)
		}
	}
	if best >= 0 {
		return best
	}

	candidates := []string{norm}
	for _, tok := range textnorm.ContentTokens(norm) {
		if len(tok) >= 4 {
			candidates = append(candidates, tok)
		}
	}
	best, bestDist := -1, -1
	consider := func(idx, dist int) {
		if bestDist < 0 || dist < bestDist {
			best, bestDist = idx, dist
		}
	}
	for _, c := range candidates {
		for _, r := range fuzzy.RankFindNormalizedFold(c, names) {
			consider(r.OriginalIndex, r.Distance)
		}
		if len(c) < 5 {
			continue
		}
		// Typos: one or two edits against the name or one of its words.
		for i, name := range names {
			for _, word := range append([]string{name}, strings.Fields(name)...) {
				if len(word) >= 5 {
					if d := fuzzy.LevenshteinDistance(c, word); d <= 2 {
						consider(i, d)
					}
				}
			}
		}
	}
	return best
}

func formatPrice(p float64) string {
	if p == float64(int(p)) {
		return strconv.Itoa(int(p))
	}
	return strings.Replace(strconv.FormatFloat(p, 'f', 2, 64), ".", ",", 1)
}

type dateStep struct{}

func (dateStep) Key() string { return bookingStepDate }

func (dateStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	return "Pour quel jour ? Vous pouvez écrire par exemple « demain », « lundi » ou « 15/01 ».", nil
}

func (dateStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	d, err := ParseDate(input, fc.Now)
	switch {
	case errors.Is(err, ErrPastDate):
		return Invalid("Cette date est passée, merci d'indiquer une date à venir."), nil
	case err != nil:
		return Invalid("Je n'ai pas compris la date. Vous pouvez écrire par exemple « demain », « lundi » ou « 15/01 »."), nil
	}
	if d.After(Today(fc.Now).AddDate(0, 0, MaxBookingHorizonDays)) {
		return Invalid("Nous ne prenons pas de rendez-vous aussi loin. Choisissez une date dans les six prochains mois."), nil
	}
	if _, _, open := openingHours(fc.Tenant, d.Weekday()); !open {
		return Invalid(fmt.Sprintf("Nous sommes fermés le %s. Quel autre jour vous conviendrait ?", frenchWeekdays[d.Weekday()])), nil
	}
	return Accept(d.Format(dateLayout)), nil
}

func (dateStep) Next(Data) string { return bookingStepTime }

// openingHours returns the opening window of a weekday in minutes. Tenants
// without configured hours are open every day with default hours.
func openingHours(t *models.TenantProfile, day time.Weekday) (openAt, closeAt int, ok bool) {
	openStr, closeStr := defaultOpen, defaultClose
	if t != nil && len(t.BusinessHours) > 0 {
		h, found := t.HoursFor(int(day))
		if !found {
			return 0, 0, false
		}
		openStr, closeStr = h.Open, h.Close
	}
	openAt, ok1 := minutesOf(openStr)
	closeAt, ok2 := minutesOf(closeStr)
	if !ok1 || !ok2 || closeAt <= openAt {
		return 0, 0, false
	}
	return openAt, closeAt, true
}

type timeStep struct {
	store BookingStore
}

func (timeStep) Key() string { return bookingStepTime }

func (s timeStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	rec := bookingFromData(data)
	slots, err := s.availableSlots(ctx, fc, rec)
	if err != nil {
		return "", err
	}
	day := formatISODate(rec.Date, fc.Now.Location())
	if len(slots) == 0 {
		return fmt.Sprintf("Il ne reste plus de créneau libre le %s. Écrivez « annuler » pour recommencer avec un autre jour.", day), nil
	}
	if len(slots) > maxOfferedSlots {
		slots = slots[:maxOfferedSlots]
	}
	return fmt.Sprintf("Créneaux disponibles le %s : %s. Quelle heure vous convient ?", day, strings.Join(slots, ", ")), nil
}

// Validate re-reads booked slots so a slot overlapping a booking made since
// the prompt is refused.
func (s timeStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	hhmm, err := ParseTime(input)
	if err != nil {
		return Invalid("Je n'ai pas compris l'heure. Écrivez par exemple « 14h » ou « 9h30 »."), nil
	}
	rec := bookingFromData(data)
	day, err := time.ParseInLocation(dateLayout, rec.Date, fc.Now.Location())
	if err != nil {
		return Validation{}, fmt.Errorf("booking date %q: %w", rec.Date, err)
	}
	openAt, closeAt, ok := openingHours(fc.Tenant, day.Weekday())
	if !ok {
		return Invalid("Nous sommes fermés ce jour-là."), nil
	}
	start, _ := minutesOf(hhmm)
	duration := serviceDuration(fc.Tenant, rec.ServiceID)
	if start < openAt || start+duration > closeAt {
		return Invalid(fmt.Sprintf("Nous recevons de %s à %s ce jour-là. Quelle heure vous convient ?", formatMinutes(openAt), formatMinutes(closeAt))), nil
	}
	if day.Equal(Today(fc.Now)) && start <= fc.Now.Hour()*60+fc.Now.Minute() {
		return Invalid("Cet horaire est déjà passé. Choisissez une heure plus tard dans la journée."), nil
	}

	booked, err := s.store.ListBookedSlots(ctx, fc.Tenant.ID, rec.Date)
	if err != nil {
		return Validation{}, err
	}
	if overlapsBooking(fc.Tenant, booked, start, duration) {
		msg := "Désolé, ce créneau chevauche un rendez-vous déjà réservé."
		if slots, err := s.availableSlots(ctx, fc, rec); err == nil && len(slots) > 0 {
			if len(slots) > maxOfferedSlots {
				slots = slots[:maxOfferedSlots]
			}
			msg += " Encore libres : " + strings.Join(slots, ", ") + "."
		}
		return Invalid(msg), nil
	}
	return Accept(hhmm), nil
}

func (timeStep) Next(Data) string { return bookingStepName }

func (s timeStep) availableSlots(ctx context.Context, fc *Context, rec bookingRecord) ([]string, error) {
	day, err := time.ParseInLocation(dateLayout, rec.Date, fc.Now.Location())
	if err != nil {
		return nil, fmt.Errorf("booking date %q: %w", rec.Date, err)
	}
	openAt, closeAt, ok := openingHours(fc.Tenant, day.Weekday())
	if !ok {
		return nil, nil
	}
	booked, err := s.store.ListBookedSlots(ctx, fc.Tenant.ID, rec.Date)
	if err != nil {
		return nil, err
	}
	earliest := openAt
	if day.Equal(Today(fc.Now)) {
		earliest = max(openAt, fc.Now.Hour()*60+fc.Now.Minute()+1)
	}
	duration := serviceDuration(fc.Tenant, rec.ServiceID)
	var slots []string
	for m := openAt; m+duration <= closeAt; m += SlotInterval {
		if m < earliest || overlapsBooking(fc.Tenant, booked, m, duration) {
			continue
		}
		slots = append(slots, formatMinutes(m))
	}
	return slots, nil
}

// overlapsBooking reports whether [start, start+duration) intersects a booked
// appointment. Bookings without a recorded duration take their service's.
func overlapsBooking(t *models.TenantProfile, booked []models.BookedSlot, start, duration int) bool {
	for _, b := range booked {
		bStart, ok := minutesOf(b.Time)
		if !ok {
			continue
		}
		bDuration := b.DurationMinutes
		if bDuration <= 0 {
			bDuration = serviceDuration(t, b.ServiceID)
		}
		if start < bStart+bDuration && bStart < start+duration {
			return true
		}
	}
	return false
}

func serviceDuration(t *models.TenantProfile, serviceID string) int {
	if d := findService(t, serviceID).DurationMinutes; d > 0 {
		return d
	}
	return defaultDuration
}
