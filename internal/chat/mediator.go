// Package chat answers free-form questions about prediction markets.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/models"
	"github.com/leeaandrob/cloracle/internal/storage"
)

const (
	// FallbackReply is stored and returned when the provider yields nothing.
	FallbackReply = "I apologize, I was unable to generate a response. Please try again."

	// DefaultHistoryLimit is the number of messages History returns by default.
	DefaultHistoryLimit = 50

	chatTemperature = 0.8
	chatMaxTokens   = 1500
)

// ErrEmptyMessage is returned when the message is blank.
var ErrEmptyMessage = errors.New("message is required")

const systemPrompt = `You are Cloracle, an AI oracle that helps users understand prediction markets and event probabilities.

You provide DETAILED, SPECIFIC analysis - not generic advice. When asked about events:
1. Give specific probability estimates with clear reasoning
2. Cite relevant historical precedents or data points
3. Identify key factors and how they influence the outcome
4. Discuss what could change your estimate
5. Be willing to disagree with market consensus and explain why

Be conversational but substantive. Users want INSIGHT, not platitudes.`

const contextTemplate = `[Context: The user is asking about the event "%s"
Description: %s
Current Market Probability: %s]

User question: %s

Provide a detailed, specific answer. If discussing probability, give your OWN estimate and explain your reasoning.`

// Request is one user turn.
type Request struct {
	Message string  `json:"message" validate:"required,max=4000"`
	EventID *string `json:"eventId,omitempty" validate:"omitempty,max=128"`
}

// Reply is the assistant's answer to a Request.
type Reply struct {
	Content string  `json:"message"`
	EventID *string `json:"eventId,omitempty"`
}

// Mediator prompts the provider and records both sides of each turn.
type Mediator struct {
	store    storage.Store
	provider llm.Provider
	validate *validator.Validate
	now      func() time.Time
}

// NewMediator creates a new chat mediator.
func NewMediator(store storage.Store, provider llm.Provider) *Mediator {
	return &Mediator{
		store:    store,
		provider: provider,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Respond answers req. An unknown event id returns storage.ErrNotFound before
// any provider call. Provider failures produce FallbackReply, which is stored
// as the assistant message so every turn keeps its pair.
func (m *Mediator) Respond(ctx context.Context, req Request) (*Reply, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.EventID != nil && strings.TrimSpace(*req.EventID) == "" {
		req.EventID = nil
	}
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid chat request: %w", err)
	}

	prompt := req.Message
	if req.EventID != nil {
		event, err := m.store.GetEvent(ctx, *req.EventID)
		if err != nil {
			return nil, err
		}
		prompt = buildContextPrompt(event, req.Message)
	}

	askedAt := m.now()
	content, err := m.provider.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Temperature:  chatTemperature,
		MaxTokens:    chatMaxTokens,
	})
	if err != nil || strings.TrimSpace(content) == "" {
		log.Warn().Err(err).Str("provider", m.provider.Name()).Msg("Chat completion failed, using fallback")
		content = FallbackReply
	}

	answeredAt := m.now()
	if !answeredAt.After(askedAt) {
		answeredAt = askedAt.Add(time.Millisecond)
	}

	// The turn is recorded even if the caller has gone away.
	saveCtx := context.WithoutCancel(ctx)
	if err := m.save(saveCtx, models.RoleUser, req.Message, req.EventID, askedAt); err != nil {
		return nil, err
	}
	if err := m.save(saveCtx, models.RoleAssistant, content, req.EventID, answeredAt); err != nil {
		return nil, err
	}

	return &Reply{Content: content, EventID: req.EventID}, nil
}

func (m *Mediator) save(ctx context.Context, role models.Role, content string, eventID *string, at time.Time) error {
	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		EventID:   eventID,
		CreatedAt: at,
	}
	if err := m.store.CreateChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("save %s message: %w", role, err)
	}
	return nil
}

// History returns up to limit of the most recent messages, oldest first.
// A nil eventID returns messages across all events.
func (m *Mediator) History(ctx context.Context, eventID *string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := m.store.ListChatMessages(ctx, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func buildContextPrompt(e *models.Event, message string) string {
	description := e.Description
	if description == "" {
		description = "N/A"
	}
	return fmt.Sprintf(contextTemplate, e.Title, description, fmt.Sprintf("%.1f%%", e.MarketProb*100), message)
}
