package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
)

func TestBookingFlow_Completion(t *testing.T) {
	e, st := newTestEngine(t)
	fc := newFlowContext("Ana")
	start, err := e.Start(context.Background(), models.FlowTypeBooking, fc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	res := drive(t, e, fc, start.State, "coupe femme", "lundi")
	if res.State == nil || res.State.Step != bookingStepTime {
		t.Fatalf("expected time step, got %+v", res.State)
	}
	if !strings.Contains(res.Response, "lundi 12 janvier") || !strings.Contains(res.Response, "09:00") {
		t.Errorf("expected slots for Monday, got %q", res.Response)
	}

	res = drive(t, e, fc, res.State, "14h30")
	if !strings.Contains(res.Response, "Ana") {
		t.Errorf("expected name confirmation prompt, got %q", res.Response)
	}
	res = drive(t, e, fc, res.State, "oui")
	if res.State == nil || res.State.Step != bookingStepConfirm {
		t.Fatalf("expected confirm step, got %+v", res.State)
	}
	if !strings.Contains(res.Response, "Coupe femme") || !strings.Contains(res.Response, "14:30") {
		t.Errorf("unexpected summary %q", res.Response)
	}

	res = drive(t, e, fc, res.State, "oui")
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completion, got %s", res.Outcome)
	}
	bookings := st.Bookings()
	if len(bookings) != 1 {
		t.Fatalf("expected exactly one booking, got %d", len(bookings))
	}
	b := bookings[0]
	if b.ServiceID != "cut" || b.Date != "2026-01-12" || b.Time != "14:30" || b.CustomerName != "Ana" || b.TenantID != "t1" {
		t.Errorf("unexpected booking %+v", b)
	}
	if !strings.HasPrefix(b.Reference, "RDV-") || !strings.Contains(res.Response, b.Reference) {
		t.Errorf("expected reference in reply, got %q (ref %s)", res.Response, b.Reference)
	}
	if active, _ := e.Active(context.Background(), "c1"); active != nil {
		t.Errorf("expected cleared state after completion, got %+v", active)
	}
}

func TestBookingFlow_DeclinedConfirmationCreatesNothing(t *testing.T) {
	e, st := newTestEngine(t)
	fc := newFlowContext("Ana")
	start, _ := e.Start(context.Background(), models.FlowTypeBooking, fc)
	res := drive(t, e, fc, start.State, "1", "mardi", "10h", "oui", "non")
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected flow to end, got %s (%q)", res.Outcome, res.Response)
	}
	if n := len(st.Bookings()); n != 0 {
		t.Errorf("expected no booking, got %d", n)
	}
}

func TestDateStep(t *testing.T) {
	fc := newFlowContext("")
	fc.Now = fixedNow(t)
	step := dateStep{}

	v, err := step.Validate(context.Background(), "demain", fc, Data{})
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid {
		t.Errorf("Sunday is closed for this tenant, expected rejection")
	}
	if !strings.Contains(v.Error, "dimanche") {
		t.Errorf("expected closed-day message, got %q", v.Error)
	}

	v, _ = step.Validate(context.Background(), "lundi", fc, Data{})
	if !v.Valid || v.Value != "2026-01-12" {
		t.Errorf("expected 2026-01-12, got %+v", v)
	}

	v, _ = step.Validate(context.Background(), "05/01/2026", fc, Data{})
	if v.Valid || !strings.Contains(v.Error, "passée") {
		t.Errorf("expected past-date error, got %+v", v)
	}

	fc.Tenant.BusinessHours = nil
	v, _ = step.Validate(context.Background(), "demain", fc, Data{})
	if !v.Valid || v.Value != "2026-01-11" {
		t.Errorf("expected 2026-01-11 without configured hours, got %+v", v)
	}
}

func TestTimeStep_RechecksAvailability(t *testing.T) {
	_, st := newTestEngine(t)
	fc := newFlowContext("")
	fc.Now = fixedNow(t)
	step := timeStep{store: st}
	data := Data{bookingStepService: "cut", bookingStepDate: "2026-01-12"}

	prompt, err := step.Prompt(context.Background(), fc, data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "09:00") {
		t.Fatalf("expected 09:00 offered, got %q", prompt)
	}

	// Someone else takes the slot between prompt and answer.
	if err := st.CreateBooking(context.Background(), &models.Booking{TenantID: "t1", Date: "2026-01-12", Time: "09:00"}); err != nil {
		t.Fatal(err)
	}
	v, err := step.Validate(context.Background(), "9h", fc, data)
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || !strings.Contains(v.Error, "réservé") {
		t.Errorf("expected taken-slot rejection, got %+v", v)
	}
	if strings.Contains(v.Error, "09:00,") {
		t.Errorf("taken slot must not be offered again: %q", v.Error)
	}

	v, _ = step.Validate(context.Background(), "18h30", fc, data)
	if v.Valid {
		t.Errorf("a 45 min service cannot start at 18:30 when closing at 19:00")
	}
	v, _ = step.Validate(context.Background(), "9h30", fc, data)
	if !v.Valid || v.Value != "09:30" {
		t.Errorf("expected 09:30 accepted, got %+v", v)
	}
}

func TestBookingFlow_RejectsOverlappingAppointments(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)
	if err := st.CreateBooking(ctx, &models.Booking{TenantID: "t1", ServiceID: "color", Date: "2026-01-12", Time: "10:00", DurationMinutes: 90}); err != nil {
		t.Fatal(err)
	}
	fc := newFlowContext("Ana")
	start, err := e.Start(ctx, models.FlowTypeBooking, fc)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	res := drive(t, e, fc, start.State, "couleur", "lundi")
	for _, taken := range []string{"09:00", "09:30", "10:00", "10:30", "11:00"} {
		if strings.Contains(res.Response, taken) {
			t.Errorf("%s overlaps the 10:00-11:30 colour but was offered: %q", taken, res.Response)
		}
	}
	if !strings.Contains(res.Response, "11:30") {
		t.Errorf("expected 11:30 offered, got %q", res.Response)
	}

	res = drive(t, e, fc, res.State, "10h30")
	if res.Outcome != OutcomeRetry || res.State.Step != bookingStepTime {
		t.Fatalf("expected 10:30 refused, got %s (%q)", res.Outcome, res.Response)
	}
	res = drive(t, e, fc, res.State, "11h30", "oui", "oui")
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completion at 11:30, got %s (%q)", res.Outcome, res.Response)
	}
	bookings := st.Bookings()
	if len(bookings) != 2 || bookings[1].Time != "11:30" || bookings[1].DurationMinutes != 90 {
		t.Errorf("unexpected bookings %+v", bookings)
	}
}

func TestBookingOverlapIsRecheckedAtEveryStage(t *testing.T) {
	ctx := context.Background()
	_, st := newTestEngine(t)
	fc := newFlowContext("Ana")
	fc.Now = fixedNow(t)
	if err := st.CreateBooking(ctx, &models.Booking{TenantID: "t1", ServiceID: "cut", Date: "2026-01-12", Time: "10:00", DurationMinutes: 45}); err != nil {
		t.Fatal(err)
	}
	data := Data{bookingStepService: "cut", bookingStepDate: "2026-01-12"}

	v, err := timeStep{store: st}.Validate(ctx, "10h05", fc, data)
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid {
		t.Errorf("10:05 starts inside the 10:00 cut, got %+v", v)
	}

	// A booking taken between the time step and the confirmation.
	msg, err := completeBooking(ctx, st, bookingRecord{ServiceID: "cut", Date: "2026-01-12", Time: "09:30", Name: "Ana", Confirmed: true}, fc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg, "pris") {
		t.Errorf("expected taken-slot reply, got %q", msg)
	}
	if n := len(st.Bookings()); n != 1 {
		t.Errorf("expected no overlapping booking, got %d bookings", n)
	}

	// Legacy rows without a duration use their service's.
	if !overlapsBooking(fc.Tenant, []models.BookedSlot{{Time: "10:00", ServiceID: "color"}}, 11*60, 30) {
		t.Error("expected 11:00 to overlap a colour booked at 10:00")
	}
	if overlapsBooking(fc.Tenant, []models.BookedSlot{{Time: "10:00", ServiceID: "color"}}, 11*60+30, 30) {
		t.Error("11:30 starts when the colour ends")
	}
}

func TestTimeStep_TodayRejectsPastHours(t *testing.T) {
	_, st := newTestEngine(t)
	fc := newFlowContext("")
	fc.Now = fixedNow(t) // 10:00
	v, err := timeStep{store: st}.Validate(context.Background(), "9h", fc, Data{bookingStepDate: "2026-01-10"})
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid {
		t.Error("expected a time earlier today to be rejected")
	}
}

func TestNameStep(t *testing.T) {
	step := nameStep{key: "name"}
	ctx := context.Background()

	v, _ := step.Validate(ctx, "oui", newFlowContext("Ana"), Data{})
	if !v.Valid || v.Value != "Ana" {
		t.Errorf("expected existing name confirmed, got %+v", v)
	}
	v, _ = step.Validate(ctx, "oui", newFlowContext(""), Data{})
	if v.Valid {
		t.Error("affirmative without a known name must not be taken as a name")
	}
	v, _ = step.Validate(ctx, "Non, c'est Julie", newFlowContext("Ana"), Data{})
	if !v.Valid || v.Value != "Julie" {
		t.Errorf("expected new name Julie, got %+v", v)
	}
	v, _ = step.Validate(ctx, "Je m'appelle Paul Martin", newFlowContext(""), Data{})
	if !v.Valid || v.Value != "Paul Martin" {
		t.Errorf("expected Paul Martin, got %+v", v)
	}
	v, _ = step.Validate(ctx, "0612345678", newFlowContext(""), Data{})
	if v.Valid {
		t.Error("digits are not a name")
	}
	v, _ = step.Validate(ctx, "Oui c'est Marie", newFlowContext("Jean"), Data{})
	if !v.Valid || v.Value != "Marie" {
		t.Errorf("a name after the yes replaces the known one, got %+v", v)
	}
	v, _ = step.Validate(ctx, "Oui c'est Marie", newFlowContext(""), Data{})
	if !v.Valid || v.Value != "Marie" {
		t.Errorf("a name after the yes is accepted without a known name, got %+v", v)
	}
	v, _ = step.Validate(ctx, "Oui, c'est bien moi merci", newFlowContext("Jean"), Data{})
	if !v.Valid || v.Value != "Jean" {
		t.Errorf("a bare yes with courtesies confirms the known name, got %+v", v)
	}
}

func TestSplitAffirmative(t *testing.T) {
	tests := []struct {
		input    string
		rest     string
		affirmed bool
	}{
		{"oui", "", true},
		{"Oui c'est ça", "", true},
		{"ok merci", "", true},
		{"Oui c'est Marie", "c'est Marie", true},
		{"d'accord, Paul Martin.", "Paul Martin", true},
		{"Marie", "Marie", false},
		{"Non, c'est Julie", "Non, c'est Julie", false},
	}
	for _, tt := range tests {
		rest, affirmed := splitAffirmative(tt.input)
		if rest != tt.rest || affirmed != tt.affirmed {
			t.Errorf("splitAffirmative(%q) = %q, %v; want %q, %v", tt.input, rest, affirmed, tt.rest, tt.affirmed)
		}
	}
}

func TestMatchService(t *testing.T) {
	services := salonTenant().Services
	tests := []struct {
		input string
		want  int
	}{
		{"1", 0},
		{"2", 1},
		{"7", -1},
		{"Une coupe femme svp", 0},
		{"couleur", 1},
		{"coulleur", 1},
		{"massage", -1},
	}
	for _, tt := range tests {
		if got := MatchService(tt.input, services); got != tt.want {
			t.Errorf("MatchService(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
