package flow

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
)

// OrderStore looks up tenant orders.
type OrderStore interface {
	GetOrder(ctx context.Context, tenantID, reference string) (*models.Order, error)
}

const orderStepReference = "reference"

var orderStatusLabels = map[string]string{
	"pending":    "en attente de traitement",
	"processing": "en cours de préparation",
	"shipped":    "expédiée",
	"delivered":  "livrée",
	"cancelled":  "annulée",
	"ready":      "prête à être retirée",
}

// OrderTrackingFlow declares the single-step order status lookup.
func OrderTrackingFlow(st OrderStore) Definition {
	return Definition{
		Type:        models.FlowTypeOrderTracking,
		MaxAttempts: DefaultMaxAttempts,
		Start:       orderStepReference,
		Steps: map[string]Step{
			orderStepReference: orderReferenceStep{store: st},
		},
		OnComplete: func(ctx context.Context, data Data, fc *Context) (string, error) {
			ref := data.String(orderStepReference)
			order, err := st.GetOrder(ctx, fc.Tenant.ID, ref)
			if err != nil {
				return "", err
			}
			if order == nil {
				return fmt.Sprintf("Je ne retrouve plus la commande %s. Un conseiller va vérifier.", ref), nil
			}
			return DescribeOrder(order), nil
		},
		Escalation: "Je ne parviens pas à retrouver votre commande. Un conseiller va vérifier et revenir vers vous.",
	}
}

// DescribeOrder renders an order status for the customer.
func DescribeOrder(o *models.Order) string {
	label, ok := orderStatusLabels[strings.ToLower(o.Status)]
	if !ok {
		label = o.Status
	}
	msg := fmt.Sprintf("Votre commande %s est %s.", o.Reference, label)
	if o.Detail != "" {
		msg += " " + o.Detail
	}
	return msg
}

// NormalizeOrderReference upper-cases a reference and drops everything but
// letters, digits and dashes.
func NormalizeOrderReference(input string) string {
	var b strings.Builder
	for _, field := range strings.Fields(input) {
		hasDigit := strings.IndexFunc(field, unicode.IsDigit) >= 0
		if !hasDigit {
			continue
		}
		for _, r := range strings.ToUpper(field) {
			if (r >= 'A' && r <= 'Z') || unicode.IsDigit(r) || r == '-' {
				b.WriteRune(r)
			}
		}
		break
	}
	return strings.Trim(b.String(), "-")
}

type orderReferenceStep struct {
	store OrderStore
}

func (orderReferenceStep) Key() string { return orderStepReference }

func (orderReferenceStep) Prompt(ctx context.Context, fc *Context, data Data) (string, error) {
	return "Quel est le numéro de votre commande ?", nil
}

func (s orderReferenceStep) Validate(ctx context.Context, input string, fc *Context, data Data) (Validation, error) {
	ref := NormalizeOrderReference(input)
	if len(ref) < 3 {
		return Invalid("Je n'ai pas trouvé de numéro de commande dans votre message. Il figure sur votre confirmation (ex : CMD-1234)."), nil
	}
	order, err := s.store.GetOrder(ctx, fc.Tenant.ID, ref)
	if err != nil {
		return Validation{}, err
	}
	if order == nil {
		return Invalid(fmt.Sprintf("Je ne trouve aucune commande %s. Pouvez-vous vérifier le numéro ?", ref)), nil
	}
	return Accept(order.Reference), nil
}

func (orderReferenceStep) Next(Data) string { return "" }
