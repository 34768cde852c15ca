package flow

// Stores is the persistence the built-in flows need.
type Stores interface {
	BookingStore
	LeadStore
	OrderStore
}

// RegisterDefaults registers the booking, lead capture, quote request and
// order tracking flows.
func RegisterDefaults(e *Engine, st Stores) error {
	for _, def := range []Definition{
		BookingFlow(st),
		LeadCaptureFlow(st),
		QuoteRequestFlow(st),
		OrderTrackingFlow(st),
	} {
		if err := e.Register(def); err != nil {
			return err
		}
	}
	return nil
}
