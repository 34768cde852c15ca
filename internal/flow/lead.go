package flow

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
)

// LeadStore persists captured leads.
type LeadStore interface {
	CreateLead(ctx context.Context, l *models.Lead) error
}

// Lead statuses written on the conversation.
const (
	LeadStatusNew            = "new"
	LeadStatusQuoteRequested = "quote_requested"
)

const (
	leadStepNeed  = "need"
	leadStepName  = "name"
	leadStepEmail = "email"
	leadStepPhone = "phone"

	quoteStepProject  = "project"
	quoteStepDetails  = "details"
	quoteStepBudget   = "budget"
	quoteStepDeadline = "deadline"
	quoteStepEmail    = "email"
)

// LeadCaptureFlow declares the contact dialogue: need -> name -> email -> phone.
func LeadCaptureFlow(st LeadStore) Definition {
	return Definition{
		Type:        models.FlowTypeLeadCapture,
		MaxAttempts: DefaultMaxAttempts,
		Start:       leadStepNeed,
		Steps: map[string]Step{
			leadStepNeed: textStep{
				key:    leadStepNeed,
				prompt: "Avec plaisir ! En quelques mots, quel est votre besoin ?",
				minLen: 3,
				errMsg: "Pouvez-vous décrire votre besoin en quelques mots ?",
				next:   leadStepName,
			},
			leadStepName:  nameStep{key: leadStepName, next: leadStepEmail},
			leadStepEmail: emailStep{key: leadStepEmail, prompt: "Quelle est votre adresse email ?", next: leadStepPhone},
			leadStepPhone: phoneStep{key: leadStepPhone},
		},
		OnComplete: func(ctx context.Context, data Data, fc *Context) (string, error) {
			lead := &models.Lead{
				Kind:  models.LeadKindLead,
				Need:  data.String(leadStepNeed),
				Name:  data.String(leadStepName),
				Email: data.String(leadStepEmail),
				Phone: data.String(leadStepPhone),
			}
			if err := saveLead(ctx, st, lead, fc, LeadStatusNew); err != nil {
				return "", err
			}
			return fmt.Sprintf("Merci %s ! Votre demande est bien enregistrée, nous revenons vers vous très vite.", lead.Name), nil
		},
		OnCancel: func(ctx context.Context, data Data, fc *Context) string {
			return "Pas de problème, j'abandonne la demande. Je reste disponible si besoin."
		},
		Escalation: "Je transmets votre demande à un conseiller qui vous recontactera directement.",
	}
}

// QuoteRequestFlow declares the quote dialogue:
// project -> details -> budget -> deadline -> email.
func QuoteRequestFlow(st LeadStore) Definition {
	return Definition{
		Type:        models.FlowTypeQuoteRequest,
		MaxAttempts: DefaultMaxAttempts,
		Start:       quoteStepProject,
		Steps: map[string]Step{
			quoteStepProject: textStep{
				key:    quoteStepProject,
				prompt: "Je prépare votre demande de devis. Quel est votre projet ?",
				minLen: 3,
				errMsg: "Pouvez-vous décrire votre projet en quelques mots ?",
				next:   quoteStepDetails,
			},
			quoteStepDetails: textStep{
				key:    quoteStepDetails,
				prompt: "Pouvez-vous préciser les détails (quantités, dimensions, options…) ?",
				minLen: 3,
				errMsg: "Quelques détails nous aideront à chiffrer votre projet. Pouvez-vous préciser ?",
				next:   quoteStepBudget,
			},
			quoteStepBudget: textStep{
				key:       quoteStepBudget,
				prompt:    "Avez-vous un budget en tête ? (ou « je ne sais pas »)",
				minLen:    1,
				errMsg:    "Indiquez un montant approximatif, ou « je ne sais pas ».",
				next:      quoteStepDeadline,
				skippable: true,
			},
			quoteStepDeadline: textStep{
				key:       quoteStepDeadline,
				prompt:    "Pour quand en auriez-vous besoin ?",
				minLen:    2,
				errMsg:    "Indiquez une échéance, par exemple « fin mars » ou « dès que possible ».",
				next:      quoteStepEmail,
				skippable: true,
			},
			quoteStepEmail: emailStep{key: quoteStepEmail, prompt: "À quelle adresse email dois-je envoyer le devis ?"},
		},
		OnComplete: func(ctx context.Context, data Data, fc *Context) (string, error) {
			lead := &models.Lead{
				Kind:     models.LeadKindQuote,
				Name:     fc.Conversation.CustomerName,
				Need:     data.String(quoteStepProject),
				Details:  data.String(quoteStepDetails),
				Budget:   data.String(quoteStepBudget),
				Deadline: data.String(quoteStepDeadline),
				Email:    data.String(quoteStepEmail),
			}
			if err := saveLead(ctx, st, lead, fc, LeadStatusQuoteRequested); err != nil {
				return "", err
			}
			return fmt.Sprintf("Merci ! Votre demande de devis est enregistrée. Vous le recevrez à %s.", lead.Email), nil
		},
		OnCancel: func(ctx context.Context, data Data, fc *Context) string {
			return "D'accord, j'annule la demande de devis."
		},
		Escalation: "Je transmets votre projet à un conseiller qui vous recontactera pour le devis.",
	}
}

func saveLead(ctx context.Context, st LeadStore, lead *models.Lead, fc *Context, status string) error {
	lead.TenantID = fc.Tenant.ID
	lead.ConversationID = fc.Conversation.ID
	lead.CreatedAt = fc.Now
	if lead.Phone == "" && lead.Kind == models.LeadKindQuote {
		lead.Phone = fc.Conversation.CustomerAddress
	}
	lead.Score = ScoreLead(lead)
	if err := st.CreateLead(ctx, lead); err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	score := lead.Score
	fc.Conversation.LeadStatus = status
	fc.Conversation.LeadScore = &score
	if fc.Conversation.CustomerName == "" && lead.Name != "" {
		fc.Conversation.CustomerName = lead.Name
	}
	return nil
}

// ScoreLead rates a lead from 0 to 100 by how complete and qualified it is.
func ScoreLead(l *models.Lead) int {
	score := 10
	if l.Name != "" {
		score += 10
	}
	if l.Email != "" {
		score += 25
	}
	if l.Phone != "" {
		score += 15
	}
	if utf8.RuneCountInString(l.Need)+utf8.RuneCountInString(l.Details) >= 30 {
		score += 15
	}
	if l.Budget != "" {
		score += 15
	}
	if l.Deadline != "" {
		score += 10
	}
	return min(score, 100)
}
