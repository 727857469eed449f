// Package episodic implements the lifecycle pipeline: unepisodized chat
// messages consolidate into episodes on an interval, episodes past the
// retention window archive into instances daily, and old instances are
// swept for compression. Every promotion is transactional and strictly
// monotonic: a message episodizes at most once, an episode instancizes at
// most once, an instance compresses at most once.
package episodic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/errs"
	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/store"
)

// Config tunes the pipeline. Zero fields take defaults.
type Config struct {
	// Interval between episodization runs.
	Interval time.Duration

	// InstancizeAt is the daily instancization time, "HH:MM" local.
	InstancizeAt string

	// Window is the wall-clock span one group may cover.
	Window time.Duration

	// SessionGap splits a group when consecutive messages are further
	// apart than this.
	SessionGap time.Duration

	// IdleGap is how long a conversation must be quiet before its trailing
	// group closes.
	IdleGap time.Duration

	// SuperChatCap and DeepDiveCap bound group sizes per source kind.
	// Caps are inclusive: a group closes when the cap is reached.
	SuperChatCap int
	DeepDiveCap  int

	// RetentionDays promotes episodes to instances after this age.
	RetentionDays int

	// CompressAfterDays marks instances as compression candidates.
	CompressAfterDays int

	// MaxEmbedChars bounds the text fed to one embedding call.
	MaxEmbedChars int

	// EmbedRate caps embedding calls per second. Zero means unlimited.
	EmbedRate float64

	// GroupRetryBudget skips a poisoned group after this many failures.
	GroupRetryBudget int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.InstancizeAt == "" {
		c.InstancizeAt = "03:00"
	}
	if c.Window <= 0 {
		c.Window = 6 * time.Hour
	}
	if c.SessionGap <= 0 {
		c.SessionGap = 15 * time.Minute
	}
	if c.IdleGap <= 0 {
		c.IdleGap = 2 * time.Minute
	}
	if c.SuperChatCap <= 0 {
		c.SuperChatCap = 50
	}
	if c.DeepDiveCap <= 0 {
		c.DeepDiveCap = 30
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.CompressAfterDays < c.RetentionDays {
		c.CompressAfterDays = 90
	}
	if c.MaxEmbedChars <= 0 {
		c.MaxEmbedChars = 8000
	}
	if c.GroupRetryBudget <= 0 {
		c.GroupRetryBudget = 3
	}
	return c
}

// Compressor is the pluggable instance-compression transformation.
type Compressor interface {
	Compress(ctx context.Context, inst *model.Instance) ([]byte, error)
}

type logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Pipeline runs the episodic lifecycle jobs.
type Pipeline struct {
	store      store.VectorStore
	embedder   capability.Embedder
	compressor Compressor
	cfg        Config
	logger     logger
	types      *filter.TypeRegistry
	limiter    *rate.Limiter
	now        func() time.Time

	// convLocks serializes per-conversation transactions.
	convLocks sync.Map // conversation id -> *sync.Mutex

	// groupFailures tracks the retry budget per poisoned group.
	failMu        sync.Mutex
	groupFailures map[string]int
}

// New creates a pipeline. compressor may be nil; candidates are then only
// counted and logged.
func New(st store.VectorStore, emb capability.Embedder, compressor Compressor, cfg Config, log logger) *Pipeline {
	if log == nil {
		log = nopLogger{}
	}
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.EmbedRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRate), 1)
	}
	return &Pipeline{
		store:         st,
		embedder:      emb,
		compressor:    compressor,
		cfg:           cfg,
		logger:        log,
		types:         filter.CoreRegistry(),
		limiter:       limiter,
		now:           time.Now,
		groupFailures: make(map[string]int),
	}
}

func (p *Pipeline) lockConversation(id string) *sync.Mutex {
	mu, _ := p.convLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// EpisodizeOnce groups unepisodized messages into episodes across both
// conversation shapes. Returns the number of episodes created.
func (p *Pipeline) EpisodizeOnce(ctx context.Context) (int, error) {
	total := 0
	for _, kind := range []model.SourceKind{model.SourceSuperChat, model.SourceDeepDive} {
		n, err := p.episodizeKind(ctx, kind)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *Pipeline) episodizeKind(ctx context.Context, kind model.SourceKind) (int, error) {
	msgTable, convTable := messageTables(kind)
	pred, err := filter.Compile(filter.Eq("episodized", filter.Bool(false)), p.types, filter.Options{})
	if err != nil {
		return 0, err
	}
	recs, err := p.store.Scan(ctx, msgTable, pred, store.ScanOptions{OrderBy: "created_at"})
	if err != nil {
		return 0, err
	}

	// Bucket by conversation, preserving the created_at order of the scan.
	byConv := make(map[string][]*model.ChatMessage)
	var convOrder []string
	for _, rec := range recs {
		msg, err := MessageFromRecord(rec)
		if err != nil {
			p.logger.Warn("skipping undecodable message", "id", rec.ID, "error", err)
			continue
		}
		if _, ok := byConv[msg.ConversationID]; !ok {
			convOrder = append(convOrder, msg.ConversationID)
		}
		byConv[msg.ConversationID] = append(byConv[msg.ConversationID], msg)
	}
	sort.Strings(convOrder)

	maxMsgs := p.cfg.SuperChatCap
	if kind == model.SourceDeepDive {
		maxMsgs = p.cfg.DeepDiveCap
	}

	created := 0
	for _, convID := range convOrder {
		if ctx.Err() != nil {
			return created, errs.Wrap(errs.KindCancelled, "episodic.episodize", ctx.Err())
		}
		p.checkOrphan(ctx, convTable, convID, byConv[convID][0].UserID)
		groups := p.groupMessages(byConv[convID], maxMsgs)
		for _, group := range groups {
			if err := p.commitGroup(ctx, kind, msgTable, convTable, convID, group); err != nil {
				p.noteGroupFailure(ctx, convID, group, err)
				continue
			}
			created++
		}
	}
	return created, nil
}

// groupMessages applies the grouping policy: a group closes when the
// message cap is reached (inclusive), the wall-clock window is exceeded,
// or a session gap separates consecutive messages. The trailing group
// stays open until the conversation has been idle for IdleGap.
func (p *Pipeline) groupMessages(msgs []*model.ChatMessage, maxMsgs int) [][]*model.ChatMessage {
	if len(msgs) == 0 {
		return nil
	}
	var groups [][]*model.ChatMessage
	var cur []*model.ChatMessage
	var start time.Time

	flush := func() {
		if len(cur) > 0 {
			groups = append(groups, cur)
			cur = nil
		}
	}

	for _, m := range msgs {
		if len(cur) == 0 {
			cur = []*model.ChatMessage{m}
			start = m.CreatedAt
			continue
		}
		last := cur[len(cur)-1]
		switch {
		case m.CreatedAt.Sub(last.CreatedAt) > p.cfg.SessionGap:
			flush()
		case m.CreatedAt.Sub(start) > p.cfg.Window:
			flush()
		}
		if len(cur) == 0 {
			start = m.CreatedAt
		}
		cur = append(cur, m)
		if len(cur) >= maxMsgs {
			flush()
		}
	}

	// The trailing group closes only once the conversation has idled.
	if len(cur) > 0 {
		lastAt := cur[len(cur)-1].CreatedAt
		if p.now().Sub(lastAt) >= p.cfg.IdleGap {
			groups = append(groups, cur)
		}
	}
	return groups
}

// commitGroup snapshots, embeds, inserts the episode, and flips message
// flags inside one transaction.
func (p *Pipeline) commitGroup(ctx context.Context, kind model.SourceKind, msgTable, convTable, convID string, group []*model.ChatMessage) error {
	mu := p.lockConversation(convID)
	mu.Lock()
	defer mu.Unlock()

	snapshots := make([]model.MessageSnapshot, len(group))
	for i, m := range group {
		snapshots[i] = model.MessageSnapshot{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
	}
	dateFrom := group[0].CreatedAt
	dateTo := group[len(group)-1].CreatedAt

	embedding, err := p.embedGroup(ctx, snapshots)
	if err != nil {
		return err
	}

	now := p.now().UTC()
	ep := &model.Episode{
		ID:           uuid.New().String(),
		UserID:       group[0].UserID,
		SourceKind:   kind,
		SourceID:     convID,
		Messages:     snapshots,
		MessageCount: len(snapshots),
		DateFrom:     dateFrom,
		DateTo:       dateTo,
		Embedding:    embedding,
		CreatedAt:    now,
	}
	if conv, err := p.store.Get(ctx, convTable, convID); err == nil {
		if tenant, ok := conv.Attrs["tenant_id"].(string); ok {
			ep.TenantID = tenant
		}
	}

	err = p.store.Tx(ctx, func(tx store.Tx) error {
		if err := tx.Put(store.TableEpisodes, EpisodeRecord(ep)); err != nil {
			return err
		}
		for _, m := range group {
			if err := tx.Update(msgTable, m.ID, func(rec *store.Record) error {
				var msg model.ChatMessage
				if err := rec.UnmarshalPayload(&msg); err != nil {
					return err
				}
				if msg.Episodized {
					return errs.Newf(errs.KindConflict, "episodic.episodize",
						"message %s already episodized", m.ID)
				}
				msg.Episodized = true
				at := now
				msg.EpisodizedAt = &at
				*rec = *MessageRecord(&msg)
				return nil
			}); err != nil {
				return err
			}
		}
		return tx.Put(store.TableAudit, auditRecord(model.AuditEpisodized, ep.ID, ep.UserID,
			fmt.Sprintf("source=%s messages=%d", convID, len(group)), now))
	})
	if err != nil {
		return err
	}
	p.logger.Info("episode created", "episode_id", ep.ID, "user_id", ep.UserID,
		"source_id", convID, "messages", len(group))
	return nil
}

func (p *Pipeline) embedGroup(ctx context.Context, snapshots []model.MessageSnapshot) ([]float32, error) {
	text := sampleForEmbedding(snapshots, p.cfg.MaxEmbedChars)
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, errs.Wrap(errs.KindCancelled, "episodic.embed", err)
		}
	}
	return p.embedder.Embed(ctx, text)
}

// noteGroupFailure counts a failed group against its retry budget;
// exhausted groups are skipped and flagged in the audit log.
func (p *Pipeline) noteGroupFailure(ctx context.Context, convID string, group []*model.ChatMessage, cause error) {
	key := convID + "/" + group[0].ID
	p.failMu.Lock()
	p.groupFailures[key]++
	count := p.groupFailures[key]
	p.failMu.Unlock()

	if count < p.cfg.GroupRetryBudget {
		p.logger.Warn("episodization group failed, will retry",
			"conversation_id", convID, "first_message", group[0].ID, "attempt", count, "error", cause)
		return
	}
	p.logger.Error("episodization group skipped after retry budget",
		"conversation_id", convID, "first_message", group[0].ID, "error", cause)
	_ = p.store.Put(ctx, store.TableAudit, auditRecord(model.AuditSkipped, group[0].ID, group[0].UserID,
		fmt.Sprintf("group in %s skipped: %v", convID, cause), p.now().UTC()))
}

// checkOrphan logs rows referencing a conversation that no longer
// exists; resolving them is operator action, never automatic deletion.
func (p *Pipeline) checkOrphan(ctx context.Context, convTable, convID, userID string) {
	if _, err := p.store.Get(ctx, convTable, convID); errs.IsNotFound(err) {
		p.logger.Warn("rows reference a missing conversation",
			"conversation_id", convID, "user_id", userID, "table", convTable)
	}
}

// InstancizeOnce archives episodes older than the retention window and
// sweeps instances for compression. Returns episodes archived.
func (p *Pipeline) InstancizeOnce(ctx context.Context) (int, error) {
	cutoff := p.now().UTC().AddDate(0, 0, -p.cfg.RetentionDays)
	pred, err := filter.Compile(filter.Lte("created_at", filter.Time(cutoff)), p.types, filter.Options{})
	if err != nil {
		return 0, err
	}
	recs, err := p.store.Scan(ctx, store.TableEpisodes, pred, store.ScanOptions{OrderBy: "created_at"})
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			return archived, errs.Wrap(errs.KindCancelled, "episodic.instancize", ctx.Err())
		}
		ep, err := EpisodeFromRecord(rec)
		if err != nil {
			p.logger.Warn("skipping undecodable episode", "id", rec.ID, "error", err)
			continue
		}
		_, convTable := messageTables(ep.SourceKind)
		p.checkOrphan(ctx, convTable, ep.SourceID, ep.UserID)
		now := p.now().UTC()
		inst := &model.Instance{
			Episode:           *ep,
			OriginalEpisodeID: ep.ID,
			InstancizedAt:     now,
		}
		err = p.store.Tx(ctx, func(tx store.Tx) error {
			if err := tx.Put(store.TableInstances, InstanceRecord(inst)); err != nil {
				return err
			}
			if err := tx.Delete(store.TableEpisodes, ep.ID); err != nil {
				return err
			}
			return tx.Put(store.TableAudit, auditRecord(model.AuditInstancized, ep.ID, ep.UserID, "", now))
		})
		if err != nil {
			p.logger.Warn("instancization failed, will retry next run", "episode_id", ep.ID, "error", err)
			continue
		}
		archived++
	}

	if err := p.compressSweep(ctx); err != nil {
		p.logger.Warn("compression sweep failed", "error", err)
	}
	return archived, nil
}

// compressSweep marks or compresses instances older than the compression
// threshold.
func (p *Pipeline) compressSweep(ctx context.Context) error {
	cutoff := p.now().UTC().AddDate(0, 0, -p.cfg.CompressAfterDays)
	pred, err := filter.Compile(filter.And(
		filter.Lte("created_at", filter.Time(cutoff)),
		filter.Eq("compressed", filter.Bool(false)),
	), p.types, filter.Options{})
	if err != nil {
		return err
	}
	recs, err := p.store.Scan(ctx, store.TableInstances, pred, store.ScanOptions{OrderBy: "created_at"})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		inst, err := InstanceFromRecord(rec)
		if err != nil {
			continue
		}
		if p.compressor == nil {
			p.logger.Debug("compression candidate", "instance_id", inst.ID)
			continue
		}
		blob, err := p.compressor.Compress(ctx, inst)
		if err != nil {
			p.logger.Warn("compression failed", "instance_id", inst.ID, "error", err)
			continue
		}
		now := p.now().UTC()
		inst.Compressed = true
		inst.CompressedBlob = blob
		err = p.store.Tx(ctx, func(tx store.Tx) error {
			if err := tx.Put(store.TableInstances, InstanceRecord(inst)); err != nil {
				return err
			}
			return tx.Put(store.TableAudit, auditRecord(model.AuditCompressed, inst.ID, inst.UserID, "", now))
		})
		if err != nil {
			p.logger.Warn("compression commit failed", "instance_id", inst.ID, "error", err)
		}
	}
	return nil
}
