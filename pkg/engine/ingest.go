package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/episodic"
	"github.com/mnemos/mnemos/pkg/errs"
	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/store"
)

// IngestMemory classifies the text, persists it to the matching layer,
// invalidates the user's caches after the commit, and returns the written
// ids with the classification used.
func (e *Engine) IngestMemory(ctx context.Context, user, text string, hints map[string]string) (*StoreOutcome, error) {
	if user == "" {
		return nil, errs.New(errs.KindValidation, "engine.ingest", "user is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errs.New(errs.KindValidation, "engine.ingest", "empty text")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "engine.ingest", err)
	}

	cls := e.classify(ctx, user, text, hints)

	var (
		ids            []string
		personaTouched bool
	)
	now := time.Now().UTC()

	switch cls.Layer {
	case capability.LayerPersona:
		id, err := e.upsertPersona(ctx, user, text, now)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		personaTouched = true
	case capability.LayerEpisodic:
		id, err := e.appendSuperChatMessage(ctx, user, text, now)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	default:
		id, err := e.insertKnowledge(ctx, user, text, cls, hints, now)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	// Invalidation happens after the successful commit and before
	// returning to the caller.
	e.cache.InvalidateUser(ctx, user, personaTouched)
	_ = e.store.Put(ctx, store.TableAudit,
		episodic.AuditRecord(model.AuditInvalidated, ids[0], user, string(cls.Layer), now))

	e.metrics.RecordIngest(string(cls.Layer))
	return &StoreOutcome{IDs: ids, Classification: cls}, nil
}

// classify consults the input-fingerprint cache, then the injected
// classifier, then the rule-based router.
func (e *Engine) classify(ctx context.Context, user, text string, hints map[string]string) capability.Classification {
	if hinted, ok := hints["layer"]; ok {
		return capability.Classification{Layer: capability.Layer(hinted), Category: hints["category"], Confidence: 1}
	}
	if cached, ok := e.cache.GetInput(ctx, user, text); ok {
		var cls capability.Classification
		if err := json.Unmarshal([]byte(cached), &cls); err == nil {
			e.metrics.RecordCacheLookup("input", "exact")
			return cls
		}
	}
	e.metrics.RecordCacheLookup("input", "miss")

	var cls capability.Classification
	if e.classifier != nil {
		var err error
		cls, err = e.classifier.Classify(ctx, text, "")
		if err != nil {
			e.logger.Warn("classifier failed, using rule router", "error", err)
			cls = ruleClassify(text)
		}
	} else {
		cls = ruleClassify(text)
	}

	if data, err := json.Marshal(cls); err == nil {
		e.cache.SetInput(ctx, user, text, string(data))
	}
	return cls
}

var (
	personaPattern  = regexp.MustCompile(`(?i)\b(i am|i'm|my name is|i like|i prefer|i enjoy|i work as|i live in)\b`)
	skillPattern    = regexp.MustCompile(`(?i)\b(i can|i know how to|i have experience|i am able to|i'm able to)\b`)
	temporalPattern = regexp.MustCompile(`(?i)\b(today|yesterday|tomorrow|this morning|tonight|last (week|night|month|year))\b`)
	datePattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	processPattern  = regexp.MustCompile(`(?i)\b(step \d|first,|then,|finally,|the process|procedure)\b`)
)

// ruleClassify is the grammar-based fallback router: first person routes
// to persona or skill, temporal markers to episodic, procedural phrasing
// to process, everything else to knowledge.
func ruleClassify(text string) capability.Classification {
	switch {
	case skillPattern.MatchString(text):
		return capability.Classification{Layer: capability.LayerSkill, Category: string(model.CategorySkill), Confidence: 0.6}
	case personaPattern.MatchString(text):
		return capability.Classification{Layer: capability.LayerPersona, Category: "persona", Confidence: 0.6}
	case temporalPattern.MatchString(text) || datePattern.MatchString(text):
		return capability.Classification{Layer: capability.LayerEpisodic, Category: "event", Confidence: 0.55}
	case processPattern.MatchString(text):
		return capability.Classification{Layer: capability.LayerProcess, Category: string(model.CategoryProcess), Confidence: 0.55}
	default:
		return capability.Classification{Layer: capability.LayerKnowledge, Category: string(model.CategoryKnowledge), Confidence: 0.5}
	}
}

// upsertPersona merges new profile text into the user's persona and
// refreshes its embedding.
func (e *Engine) upsertPersona(ctx context.Context, user, text string, now time.Time) (string, error) {
	p := &model.Persona{UserID: user, CreatedAt: now}
	if rec, err := e.store.Get(ctx, store.TablePersona, user); err == nil {
		if existing, err := personaFromRecord(rec); err == nil {
			p = existing
		}
	} else if !errs.IsNotFound(err) {
		return "", err
	}

	if p.RawContent == "" {
		p.RawContent = text
	} else {
		p.RawContent = p.RawContent + "\n" + text
	}
	embedding, err := e.embedSem.Embed(ctx, p.RawContent)
	if err != nil {
		return "", err
	}
	p.Embedding = embedding
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	if err := e.store.Put(ctx, store.TablePersona, personaRecord(p)); err != nil {
		return "", err
	}
	return user, nil
}

// insertKnowledge writes one knowledge item.
func (e *Engine) insertKnowledge(ctx context.Context, user, text string, cls capability.Classification, hints map[string]string, now time.Time) (string, error) {
	embedding, err := e.embedSem.Embed(ctx, text)
	if err != nil {
		return "", err
	}
	category := model.CategoryKnowledge
	switch cls.Layer {
	case capability.LayerSkill:
		category = model.CategorySkill
	case capability.LayerProcess:
		category = model.CategoryProcess
	}
	item := &model.KnowledgeItem{
		ID:         uuid.New().String(),
		UserID:     user,
		Category:   category,
		Title:      hints["title"],
		Content:    text,
		Importance: model.Clamp01(cls.Confidence),
		Confidence: model.Clamp01(cls.Confidence),
		Embedding:  embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if tags, ok := hints["tags"]; ok && tags != "" {
		item.Tags = strings.Split(tags, ",")
	}
	if err := e.store.Put(ctx, store.TableKnowledge, knowledgeRecord(item)); err != nil {
		return "", err
	}
	return item.ID, nil
}

// appendSuperChatMessage records an episodic event as a message on the
// user's super chat, creating the conversation on first use.
func (e *Engine) appendSuperChatMessage(ctx context.Context, user, text string, now time.Time) (string, error) {
	convID := "superchat-" + user
	if _, err := e.store.Get(ctx, store.TableSuperChats, convID); errs.IsNotFound(err) {
		conv := &model.Conversation{
			ID:        convID,
			UserID:    user,
			Kind:      model.SourceSuperChat,
			CreatedAt: now,
		}
		if err := e.store.Put(ctx, store.TableSuperChats, episodic.ConversationRecord(conv)); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	msg := &model.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: convID,
		UserID:         user,
		Role:           model.RoleUser,
		Content:        text,
		CreatedAt:      now,
	}
	if err := e.store.Put(ctx, store.TableSuperChatMessages, episodic.MessageRecord(msg)); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// GetPersona returns the user's persona, cache first.
func (e *Engine) GetPersona(ctx context.Context, user string) (*model.Persona, error) {
	if fields, ok := e.cache.GetPersona(ctx, user); ok {
		if p, ok := personaFromCacheFields(fields); ok {
			e.metrics.RecordCacheLookup("persona", "exact")
			return p, nil
		}
	}
	e.metrics.RecordCacheLookup("persona", "miss")

	rec, err := e.store.Get(ctx, store.TablePersona, user)
	if err != nil {
		return nil, err
	}
	p, err := personaFromRecord(rec)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "engine.persona", err)
	}
	e.cache.SetPersona(ctx, user, personaCacheFields(p))
	return p, nil
}

// DeletePersona removes the persona and cascades cache invalidation.
func (e *Engine) DeletePersona(ctx context.Context, user string) error {
	if err := e.store.Delete(ctx, store.TablePersona, user); err != nil {
		return err
	}
	e.cache.InvalidateUser(ctx, user, true)
	return nil
}
