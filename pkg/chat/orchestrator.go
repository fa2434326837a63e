package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/harun/studymate/internal/logger"
	"github.com/harun/studymate/internal/observability"
	"github.com/harun/studymate/internal/tracing"
	"github.com/harun/studymate/pkg/conversation"
	"github.com/harun/studymate/pkg/lane"
	"github.com/harun/studymate/pkg/provider"
	"github.com/harun/studymate/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultHistoryLimit     = 50
	DefaultListLimit        = 20
	DefaultErrorDetailLimit = 512
	// MaxConversationIDLength bounds caller-supplied identifiers
	MaxConversationIDLength = 64

	tracerName = "studymate.chat"
)

// Config configures an Orchestrator
type Config struct {
	Store conversation.Store
	// Cache must evict through the same Locker as Lanes. Nil builds one that does.
	Cache     *session.Cache
	Lanes     *lane.Locker
	Providers *provider.Registry

	SystemPrompt     string
	DefaultOwner     string
	HistoryLimit     int
	ListLimit        int
	ErrorDetailLimit int

	Logger   zerolog.Logger
	Redactor *logger.Redactor
}

// TurnRequest is one submitted user message
type TurnRequest struct {
	ConversationID string // empty starts a new conversation
	Provider       string
	Message        string
	OwnerID        string
}

// TurnResult is the reply to a TurnRequest
type TurnResult struct {
	ConversationID string
	Response       string
}

// Orchestrator keeps the session cache and the durable store consistent
// while dispatching turns to providers.
type Orchestrator struct {
	store     conversation.Store
	cache     *session.Cache
	lanes     *lane.Locker
	providers *provider.Registry

	systemPrompt     string
	defaultOwner     string
	historyLimit     int
	listLimit        int
	errorDetailLimit int

	logger   zerolog.Logger
	redactor *logger.Redactor
}

// New creates an Orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, fmt.Errorf("system prompt is required")
	}

	observability.EnsureRegistered()

	if cfg.Lanes == nil {
		cfg.Lanes = lane.New(lane.Config{Logger: cfg.Logger})
	}
	if cfg.Cache == nil {
		cfg.Cache = session.NewCache(session.CacheConfig{Lanes: cfg.Lanes, Logger: cfg.Logger})
	}
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = conversation.DefaultOwner
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	if cfg.ErrorDetailLimit <= 0 {
		cfg.ErrorDetailLimit = DefaultErrorDetailLimit
	}
	if cfg.Redactor == nil {
		cfg.Redactor = logger.NewRedactor()
	}

	return &Orchestrator{
		store:            cfg.Store,
		cache:            cfg.Cache,
		lanes:            cfg.Lanes,
		providers:        cfg.Providers,
		systemPrompt:     cfg.SystemPrompt,
		defaultOwner:     cfg.DefaultOwner,
		historyLimit:     cfg.HistoryLimit,
		listLimit:        cfg.ListLimit,
		errorDetailLimit: cfg.ErrorDetailLimit,
		logger:           cfg.Logger,
		redactor:         cfg.Redactor,
	}, nil
}

// HandleTurn records the user message, dispatches the whole session to the
// provider and records its reply. All of it runs inside the conversation's lane.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	start := time.Now()

	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, validationError("message cannot be empty")
	}
	p, err := o.resolveProvider(req.Provider)
	if err != nil {
		return TurnResult{}, err
	}
	if req.ConversationID != "" {
		if err := ValidateConversationID(req.ConversationID); err != nil {
			return TurnResult{}, err
		}
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "chat.handle_turn",
		attribute.String("provider", string(p.Name())),
		attribute.Bool("new_conversation", req.ConversationID == ""),
	)
	defer span.End()

	result, err := o.handleTurn(ctx, p, req)
	if err != nil {
		tracing.FailSpan(span, err)
	}
	observability.RecordTurn(string(p.Name()), time.Since(start), err == nil)
	return result, err
}

func (o *Orchestrator) handleTurn(ctx context.Context, p provider.Provider, req TurnRequest) (TurnResult, error) {
	var (
		id    = req.ConversationID
		turns []conversation.Turn
	)

	if id == "" {
		conv, err := o.createConversation(ctx, req.OwnerID, conversation.TitleFrom(req.Message), p.Name())
		if err != nil {
			return TurnResult{}, err
		}
		id = conv.ID
	}
	ctx = tracing.WithConversationID(ctx, id)
	log := tracing.LoggerFromContext(ctx, o.logger)

	release, err := o.lanes.Acquire(ctx, id)
	if err != nil {
		return TurnResult{}, laneError(id, err)
	}
	defer release()

	// seeded is true only when this turn wrote the conversation's first message
	var seeded bool
	if req.ConversationID == "" {
		turns, seeded, err = o.seedSession(ctx, id, log)
	} else {
		turns, err = o.session(ctx, id)
	}
	if err != nil {
		return TurnResult{}, err
	}

	if _, err := o.store.AppendMessage(ctx, id, conversation.RoleUser, req.Message); err != nil {
		if seeded {
			o.discardConversation(ctx, id, log)
		}
		return TurnResult{}, storeError("persist user message", id, err)
	}
	turns = append(turns, conversation.Turn{Role: conversation.RoleUser, Content: req.Message})
	o.cache.Put(id, turns)

	reply, err := o.dispatch(ctx, id, p, turns)
	if err != nil {
		return TurnResult{ConversationID: id}, err
	}

	return TurnResult{ConversationID: id, Response: reply}, nil
}

// RetryTurn re-dispatches a session whose latest turn is an unanswered user
// message. No new user message is written.
func (o *Orchestrator) RetryTurn(ctx context.Context, conversationID, providerName string) (TurnResult, error) {
	start := time.Now()

	if err := ValidateConversationID(conversationID); err != nil {
		return TurnResult{}, err
	}
	p, err := o.resolveProvider(providerName)
	if err != nil {
		return TurnResult{}, err
	}

	ctx = tracing.WithConversationID(ctx, conversationID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "chat.retry_turn",
		attribute.String("provider", string(p.Name())),
		attribute.String("conversation_id", conversationID),
	)
	defer span.End()

	result, err := o.retryTurn(ctx, p, conversationID)
	if err != nil {
		tracing.FailSpan(span, err)
	}
	observability.RecordTurn(string(p.Name()), time.Since(start), err == nil)
	return result, err
}

func (o *Orchestrator) retryTurn(ctx context.Context, p provider.Provider, id string) (TurnResult, error) {
	release, err := o.lanes.Acquire(ctx, id)
	if err != nil {
		return TurnResult{}, laneError(id, err)
	}
	defer release()

	turns, err := o.session(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}
	if turns[len(turns)-1].Role != conversation.RoleUser {
		return TurnResult{}, validationError("conversation %s has no unanswered message to retry", id)
	}

	reply, err := o.dispatch(ctx, id, p, turns)
	if err != nil {
		return TurnResult{ConversationID: id}, err
	}
	return TurnResult{ConversationID: id, Response: reply}, nil
}

// dispatch sends turns to p and records the reply. Must hold the lane for id;
// turns must already be cached.
func (o *Orchestrator) dispatch(ctx context.Context, id string, p provider.Provider, turns []conversation.Turn) (string, error) {
	log := tracing.LoggerFromContext(ctx, o.logger)

	reply, err := p.Complete(ctx, conversation.CloneTurns(turns))
	if err != nil {
		pe := provider.Classify(p.Name(), err)
		log.Debug().Err(err).Str("provider", string(p.Name())).Str("kind", string(pe.Kind)).Msg("Provider call failed")
		return "", &Error{
			Kind:    KindProvider,
			Message: o.redactor.Sanitize(pe.Error(), o.errorDetailLimit),
			Err:     pe,
		}
	}

	if _, err := o.store.AppendMessage(ctx, id, conversation.RoleAssistant, reply); err != nil {
		// The caller still gets the reply; the next turn rehydrates from the store.
		o.cache.Remove(id)
		observability.RecordDurabilityGap()
		observability.RecordDurabilityAudit(ctx, id, map[string]interface{}{
			"provider": string(p.Name()),
			"error":    err.Error(),
		})
		log.Error().Err(err).Str("provider", string(p.Name())).Msg("Assistant reply returned but not persisted")
		return reply, nil
	}

	o.cache.Put(id, append(turns, conversation.Turn{Role: conversation.RoleAssistant, Content: reply}))
	return reply, nil
}

// seedSession starts the session of a conversation this turn just created.
// The id is already visible to other callers, so a turn that reached the lane
// first may have written to it; that session is continued instead.
// Must hold the lane.
func (o *Orchestrator) seedSession(ctx context.Context, id string, log zerolog.Logger) ([]conversation.Turn, bool, error) {
	if turns, ok := o.cache.Get(id); ok {
		return turns, false, nil
	}

	existing, err := o.store.ListMessages(ctx, id, 1)
	if err != nil {
		return nil, false, storeError("load messages", id, err)
	}
	if len(existing) > 0 {
		log.Debug().Msg("New conversation already has messages; continuing its session")
		turns, err := o.session(ctx, id)
		return turns, false, err
	}

	if _, err := o.store.AppendMessage(ctx, id, conversation.RoleSystem, o.systemPrompt); err != nil {
		o.discardConversation(ctx, id, log)
		return nil, false, storeError("persist system message", id, err)
	}
	return []conversation.Turn{{Role: conversation.RoleSystem, Content: o.systemPrompt}}, true, nil
}

// session returns the cached session for id, hydrating it on a miss. Must hold the lane.
func (o *Orchestrator) session(ctx context.Context, id string) ([]conversation.Turn, error) {
	if turns, ok := o.cache.Get(id); ok {
		return turns, nil
	}

	turns, err := o.hydrate(ctx, id)
	if err != nil {
		return nil, err
	}
	o.cache.Put(id, turns)
	return turns, nil
}

// hydrate rebuilds a session from the store: the earliest system message
// first, then every other message in order. A missing system message is
// synthesized and persisted.
func (o *Orchestrator) hydrate(ctx context.Context, id string) ([]conversation.Turn, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "chat.hydrate", attribute.String("conversation_id", id))
	defer span.End()

	if _, err := o.store.GetConversation(ctx, id); err != nil {
		tracing.FailSpan(span, err)
		return nil, storeError("load conversation", id, err)
	}

	messages, err := o.store.ListMessages(ctx, id, 0)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, storeError("load messages", id, err)
	}

	var (
		system string
		found  bool
		rest   = make([]conversation.Turn, 0, len(messages))
	)
	for _, m := range messages {
		if m.Role == conversation.RoleSystem {
			if !found {
				system, found = m.Content, true
			}
			continue
		}
		rest = append(rest, m.Turn())
	}

	if !found {
		log := tracing.LoggerFromContext(ctx, o.logger)
		log.Warn().Msg("Conversation has no system message; restoring it")
		if _, err := o.store.AppendMessage(ctx, id, conversation.RoleSystem, o.systemPrompt); err != nil {
			tracing.FailSpan(span, err)
			return nil, storeError("persist system message", id, err)
		}
		system = o.systemPrompt
	}

	span.SetAttributes(attribute.Int("messages", len(messages)))
	return append([]conversation.Turn{{Role: conversation.RoleSystem, Content: system}}, rest...), nil
}

func (o *Orchestrator) createConversation(ctx context.Context, ownerID, title string, name provider.Name) (conversation.Conversation, error) {
	if ownerID == "" {
		ownerID = o.defaultOwner
	}

	conv, err := o.store.CreateConversation(ctx, ownerID, title, string(name))
	if err != nil {
		return conversation.Conversation{}, storeError("create conversation", "", err)
	}

	observability.RecordConversationAudit(ctx, "conversation.create", conv.ID, "success", map[string]interface{}{
		"owner_id": ownerID,
		"provider": string(name),
	})
	return conv, nil
}

// discardConversation removes a conversation whose setup failed half way
func (o *Orchestrator) discardConversation(ctx context.Context, id string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(tracing.CloneContext(ctx), 5*time.Second)
	defer cancel()

	if err := o.store.DeleteConversation(ctx, id); err != nil && !errors.Is(err, conversation.ErrNotFound) {
		log.Warn().Err(err).Msg("Failed to remove incomplete conversation")
	}
}

// ListConversations returns the owner's conversations, most recently updated first
func (o *Orchestrator) ListConversations(ctx context.Context, ownerID string, limit int) ([]conversation.Conversation, error) {
	if ownerID == "" {
		ownerID = o.defaultOwner
	}
	if limit <= 0 {
		limit = o.listLimit
	}

	convs, err := o.store.ListConversations(ctx, ownerID, limit)
	if err != nil {
		return nil, storeError("list conversations", "", err)
	}
	return convs, nil
}

// GetHistory returns up to limit persisted messages of a conversation, oldest first
func (o *Orchestrator) GetHistory(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	if err := ValidateConversationID(conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = o.historyLimit
	}

	if _, err := o.store.GetConversation(ctx, conversationID); err != nil {
		return nil, storeError("load conversation", conversationID, err)
	}

	messages, err := o.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, storeError("load messages", conversationID, err)
	}
	return messages, nil
}

// DeleteConversation removes the conversation, its messages and its cached session
func (o *Orchestrator) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}

	ctx = tracing.WithConversationID(ctx, conversationID)
	release, err := o.lanes.Acquire(ctx, conversationID)
	if err != nil {
		return laneError(conversationID, err)
	}
	defer release()

	err = o.store.DeleteConversation(ctx, conversationID)
	o.cache.Remove(conversationID)
	if err != nil {
		observability.RecordConversationAudit(ctx, "conversation.delete", conversationID, "failure", nil)
		return storeError("delete conversation", conversationID, err)
	}

	observability.RecordConversationAudit(ctx, "conversation.delete", conversationID, "success", nil)
	log := tracing.LoggerFromContext(ctx, o.logger)
	log.Info().Msg("Conversation deleted")
	return nil
}

// Providers returns the names of the configured providers
func (o *Orchestrator) Providers() []provider.Name {
	return o.providers.Names()
}

func (o *Orchestrator) resolveProvider(raw string) (provider.Provider, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, validationError("provider is required")
	}
	name, err := provider.ParseName(raw)
	if err != nil {
		return nil, validationError("unsupported provider %q", raw)
	}
	p, ok := o.providers.Get(name)
	if !ok {
		return nil, validationError("provider %s is not configured", name)
	}
	return p, nil
}

// ValidateConversationID rejects identifiers that no store could have issued
func ValidateConversationID(id string) error {
	if id == "" {
		return validationError("conversation id is required")
	}
	if len(id) > MaxConversationIDLength {
		return validationError("conversation id is longer than %d characters", MaxConversationIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return validationError("conversation id contains whitespace or control characters")
		}
	}
	return nil
}
