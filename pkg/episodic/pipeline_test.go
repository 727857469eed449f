package episodic

import (
	"context"
	"testing"
	"time"

	"github.com/mnemos/mnemos/pkg/capability"
	"github.com/mnemos/mnemos/pkg/filter"
	"github.com/mnemos/mnemos/pkg/model"
	"github.com/mnemos/mnemos/pkg/store"
)

func newTestPipeline(t *testing.T, now time.Time) (*Pipeline, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore(nil)
	p := New(st, capability.NewHashEmbedder(32), nil, Config{}, nil)
	p.now = func() time.Time { return now }
	return p, st
}

func seedConversation(t *testing.T, st store.VectorStore, convID, user string, kind model.SourceKind) {
	t.Helper()
	conv := &model.Conversation{ID: convID, UserID: user, Kind: kind, CreatedAt: time.Now().Add(-48 * time.Hour)}
	table := store.TableSuperChats
	if kind == model.SourceDeepDive {
		table = store.TableDeepDives
	}
	if err := st.Put(context.Background(), table, ConversationRecord(conv)); err != nil {
		t.Fatal(err)
	}
}

func seedMessages(t *testing.T, st store.VectorStore, convID, user string, times []time.Time) []string {
	t.Helper()
	ids := make([]string, len(times))
	for i, at := range times {
		msg := &model.ChatMessage{
			ID:             convID + "-m" + string(rune('a'+i)),
			ConversationID: convID,
			UserID:         user,
			Role:           model.RoleUser,
			Content:        "message content number " + string(rune('a'+i)),
			CreatedAt:      at,
		}
		if err := st.Put(context.Background(), store.TableSuperChatMessages, MessageRecord(msg)); err != nil {
			t.Fatal(err)
		}
		ids[i] = msg.ID
	}
	return ids
}

func listEpisodes(t *testing.T, st store.VectorStore) []*model.Episode {
	t.Helper()
	recs, err := st.Scan(context.Background(), store.TableEpisodes, nil, store.ScanOptions{OrderBy: "created_at"})
	if err != nil {
		t.Fatal(err)
	}
	eps := make([]*model.Episode, 0, len(recs))
	for _, rec := range recs {
		ep, err := EpisodeFromRecord(rec)
		if err != nil {
			t.Fatal(err)
		}
		eps = append(eps, ep)
	}
	return eps
}

// Twelve messages ten minutes apart, a thirty-minute gap, then three
// more: two episodes.
func TestEpisodize_GapGrouping(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < 12; i++ {
		times = append(times, base.Add(time.Duration(i)*10*time.Minute))
	}
	tail := times[11].Add(30 * time.Minute)
	for i := 0; i < 3; i++ {
		times = append(times, tail.Add(time.Duration(i)*10*time.Minute))
	}

	now := times[len(times)-1].Add(10 * time.Minute) // past the idle gap
	p, st := newTestPipeline(t, now)
	seedConversation(t, st, "conv1", "u1", model.SourceSuperChat)
	seedMessages(t, st, "conv1", "u1", times)

	n, err := p.EpisodizeOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 episodes, got %d", n)
	}
	eps := listEpisodes(t, st)
	if eps[0].MessageCount+eps[1].MessageCount != 15 {
		t.Fatalf("message counts: %d + %d", eps[0].MessageCount, eps[1].MessageCount)
	}
	counts := map[int]bool{eps[0].MessageCount: true, eps[1].MessageCount: true}
	if !counts[12] || !counts[3] {
		t.Errorf("expected groups of 12 and 3, got %d and %d", eps[0].MessageCount, eps[1].MessageCount)
	}
	for _, ep := range eps {
		if ep.MessageCount != len(ep.Messages) {
			t.Error("message_count disagrees with snapshot length")
		}
		if ep.DateFrom.After(ep.DateTo) {
			t.Error("date_from after date_to")
		}
	}
}

func TestEpisodize_FlagsMessagesAndIsIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute)}
	p, st := newTestPipeline(t, base.Add(time.Hour))
	seedConversation(t, st, "conv1", "u1", model.SourceSuperChat)
	ids := seedMessages(t, st, "conv1", "u1", times)

	if n, err := p.EpisodizeOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("first run: %d %v", n, err)
	}
	for _, id := range ids {
		rec, err := st.Get(context.Background(), store.TableSuperChatMessages, id)
		if err != nil {
			t.Fatal(err)
		}
		msg, err := MessageFromRecord(rec)
		if err != nil {
			t.Fatal(err)
		}
		if !msg.Episodized || msg.EpisodizedAt == nil {
			t.Errorf("message %s not flagged", id)
		}
	}

	// A second run with no new messages creates nothing and flips nothing.
	if n, err := p.EpisodizeOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("second run: %d %v", n, err)
	}
	if len(listEpisodes(t, st)) != 1 {
		t.Error("idempotence violated")
	}
}

func TestEpisodize_TrailingGroupWaitsForIdleGap(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Minute)}
	// The conversation went quiet only one minute ago.
	p, st := newTestPipeline(t, times[1].Add(time.Minute))
	seedConversation(t, st, "conv1", "u1", model.SourceSuperChat)
	seedMessages(t, st, "conv1", "u1", times)

	if n, err := p.EpisodizeOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("open group must not close yet: %d %v", n, err)
	}
}

func TestEpisodize_CapClosesGroupInclusive(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	var times []time.Time
	for i := 0; i < 55; i++ {
		times = append(times, base.Add(time.Duration(i)*time.Second))
	}
	p, st := newTestPipeline(t, base.Add(time.Hour))
	seedConversation(t, st, "conv1", "u1", model.SourceSuperChat)
	seedMessages(t, st, "conv1", "u1", times)

	n, err := p.EpisodizeOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected a full group and a remainder, got %d", n)
	}
	eps := listEpisodes(t, st)
	counts := map[int]bool{eps[0].MessageCount: true, eps[1].MessageCount: true}
	if !counts[50] || !counts[5] {
		t.Errorf("expected 50+5 split, got %d and %d", eps[0].MessageCount, eps[1].MessageCount)
	}
}

func TestInstancize_MovesOldEpisodes(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p, st := newTestPipeline(t, now)
	ctx := context.Background()

	old := &model.Episode{
		ID: "ep-old", UserID: "u1", SourceKind: model.SourceSuperChat, SourceID: "conv1",
		Messages:     []model.MessageSnapshot{{Role: model.RoleUser, Content: "x", CreatedAt: now.AddDate(0, 0, -40)}},
		MessageCount: 1,
		DateFrom:     now.AddDate(0, 0, -40), DateTo: now.AddDate(0, 0, -40),
		CreatedAt: now.AddDate(0, 0, -40),
	}
	fresh := &model.Episode{
		ID: "ep-fresh", UserID: "u1", SourceKind: model.SourceSuperChat, SourceID: "conv1",
		Messages:     []model.MessageSnapshot{{Role: model.RoleUser, Content: "y", CreatedAt: now.AddDate(0, 0, -1)}},
		MessageCount: 1,
		DateFrom:     now.AddDate(0, 0, -1), DateTo: now.AddDate(0, 0, -1),
		CreatedAt: now.AddDate(0, 0, -1),
	}
	_ = st.Put(ctx, store.TableEpisodes, EpisodeRecord(old))
	_ = st.Put(ctx, store.TableEpisodes, EpisodeRecord(fresh))

	n, err := p.InstancizeOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived, got %d", n)
	}

	// An episode and its instance never coexist.
	if _, err := st.Get(ctx, store.TableEpisodes, "ep-old"); err == nil {
		t.Error("archived episode still present")
	}
	if _, err := st.Get(ctx, store.TableEpisodes, "ep-fresh"); err != nil {
		t.Error("fresh episode should remain")
	}

	recs, err := st.Scan(ctx, store.TableInstances, nil, store.ScanOptions{})
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected 1 instance, got %d (%v)", len(recs), err)
	}
	inst, err := InstanceFromRecord(recs[0])
	if err != nil {
		t.Fatal(err)
	}
	if inst.OriginalEpisodeID != "ep-old" || inst.InstancizedAt.IsZero() {
		t.Errorf("instance fields wrong: %+v", inst)
	}

	// Idempotence: a second run archives nothing new.
	if n, err := p.InstancizeOnce(ctx); err != nil || n != 0 {
		t.Fatalf("second run: %d %v", n, err)
	}
}

func TestInstancize_WritesAuditEvents(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p, st := newTestPipeline(t, now)
	ctx := context.Background()

	ep := &model.Episode{
		ID: "ep1", UserID: "u1", SourceKind: model.SourceSuperChat, SourceID: "c1",
		Messages:     []model.MessageSnapshot{{Role: model.RoleUser, Content: "x", CreatedAt: now.AddDate(0, 0, -40)}},
		MessageCount: 1,
		DateFrom:     now.AddDate(0, 0, -40), DateTo: now.AddDate(0, 0, -40),
		CreatedAt: now.AddDate(0, 0, -40),
	}
	_ = st.Put(ctx, store.TableEpisodes, EpisodeRecord(ep))
	if _, err := p.InstancizeOnce(ctx); err != nil {
		t.Fatal(err)
	}

	pred, err := filter.Compile(filter.Eq("action", filter.String(string(model.AuditInstancized))), filter.NewTypeRegistry(), filter.Options{})
	if err != nil {
		t.Fatal(err)
	}
	events, err := st.Scan(ctx, store.TableAudit, pred, store.ScanOptions{})
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d (%v)", len(events), err)
	}
}

func TestSampleForEmbedding_Bounded(t *testing.T) {
	var msgs []model.MessageSnapshot
	for i := 0; i < 50; i++ {
		msgs = append(msgs, model.MessageSnapshot{
			Role:    model.RoleUser,
			Content: "a fairly long message body used to inflate the concatenation size",
		})
	}
	out := sampleForEmbedding(msgs, 500)
	if len(out) > 500 {
		t.Errorf("sampled text above budget: %d chars", len(out))
	}
	if out == "" {
		t.Error("sampling must keep some content")
	}
}
