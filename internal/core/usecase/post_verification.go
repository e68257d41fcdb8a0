package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/ports"
)

// PostVerificationUseCase submits finished turns for verification and stores
// the returned link on the assistant message.
type PostVerificationUseCase struct {
	store    ports.ChatStore
	verifier ports.PostVerifier
}

func NewPostVerificationUseCase(store ports.ChatStore, verifier ports.PostVerifier) *PostVerificationUseCase {
	return &PostVerificationUseCase{store: store, verifier: verifier}
}

func (uc *PostVerificationUseCase) VerifyTurn(ctx context.Context, event domain.TurnFinished) error {
	if event.AssistantMessageID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "verify_turn", fmt.Errorf("assistant message id is required"))
	}

	externalID := fmt.Sprintf("%s_%s", event.ChatID, event.AssistantMessageID)
	qaContent := fmt.Sprintf("User question: %s\n\nAnswer:\n%s", event.Question, event.Answer)

	link, err := uc.verifier.Submit(ctx, externalID, qaContent)
	if err != nil {
		return fmt.Errorf("submit post verification: %w", err)
	}
	if link == "" {
		return nil
	}

	msg, err := uc.store.GetMessage(ctx, event.AssistantMessageID)
	if err != nil {
		return fmt.Errorf("load assistant message: %w", err)
	}
	msg.PostVerificationURL = link
	if err := uc.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("save post verification url: %w", err)
	}
	return nil
}
