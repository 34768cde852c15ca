package flow

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
)

// StateStore is the persistence surface for flow state.
type StateStore interface {
	GetFlowState(ctx context.Context, conversationID string) ([]byte, error)
	SaveFlowState(ctx context.Context, conversationID string, state []byte) error
	ClearFlowState(ctx context.Context, conversationID string) error
}

// StateManager encodes flow state to and from a StateStore.
type StateManager struct {
	store StateStore
}

// NewStateManager creates a StateManager backed by st.
func NewStateManager(st StateStore) *StateManager {
	slog.Debug("Creating StateManager")
	return &StateManager{store: st}
}

// Load returns the persisted state of a conversation, or nil. A document that
// cannot be decoded is logged as an integrity problem, cleared and reported
// as no state.
func (sm *StateManager) Load(ctx context.Context, conversationID string) (*models.FlowState, error) {
	raw, err := sm.store.GetFlowState(ctx, conversationID)
	if err != nil {
		slog.Error("StateManager Load error", "error", err, "conversationID", conversationID)
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var state models.FlowState
	if err := json.Unmarshal(raw, &state); err != nil {
		slog.Warn("StateManager Load: undecodable flow state", "integrity", true, "conversationID", conversationID, "error", err)
		if clearErr := sm.store.ClearFlowState(ctx, conversationID); clearErr != nil {
			slog.Error("StateManager Load clear error", "error", clearErr, "conversationID", conversationID)
		}
		return nil, nil
	}
	if state.Data == nil {
		state.Data = map[string]any{}
	}
	slog.Debug("StateManager Load found", "conversationID", conversationID, "type", state.Type, "step", state.Step)
	return &state, nil
}

// Save persists state for a conversation.
func (sm *StateManager) Save(ctx context.Context, conversationID string, state *models.FlowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := sm.store.SaveFlowState(ctx, conversationID, raw); err != nil {
		slog.Error("StateManager Save error", "error", err, "conversationID", conversationID, "type", state.Type, "step", state.Step)
		return err
	}
	return nil
}

// Clear removes the state of a conversation.
func (sm *StateManager) Clear(ctx context.Context, conversationID string) error {
	if err := sm.store.ClearFlowState(ctx, conversationID); err != nil {
		slog.Error("StateManager Clear error", "error", err, "conversationID", conversationID)
		return err
	}
	slog.Debug("StateManager Clear succeeded", "conversationID", conversationID)
	return nil
}
