package onboarding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chaturyaganne/ai-agent/internal/catalog"
	"github.com/chaturyaganne/ai-agent/internal/domain"
	"github.com/chaturyaganne/ai-agent/internal/llm"
	"github.com/chaturyaganne/ai-agent/internal/memory"
	"github.com/chaturyaganne/ai-agent/internal/session"
	"github.com/chaturyaganne/ai-agent/internal/store"
)

// scriptedGenerator answers empathy prompts, check-in prompts and replies
// with fixed text and records every prompt it sees.
type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
	reply   string
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, req.Prompt)
	if g.err != nil {
		return "", g.err
	}
	switch {
	case strings.Contains(req.Prompt, "The user previously shared"):
		return "Thank you for opening up about that.", nil
	case strings.Contains(req.Prompt, "checking in"):
		return "Good to see you again! How have things been?", nil
	case g.reply != "":
		return g.reply, nil
	default:
		return "Anton: I hear you.", nil
	}
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type fixture struct {
	repo *store.SQLiteStore
	gen  *scriptedGenerator
	orch *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "anton.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	gen := &scriptedGenerator{}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	responder := llm.NewResponder(gen, llm.WithLogger(quiet))
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return &fixture{
		repo: repo,
		gen:  gen,
		orch: New(repo, responder, catalog.Default(), opts...),
	}
}

func (f *fixture) user(t *testing.T, username string) *domain.User {
	t.Helper()
	u, err := f.repo.GetUserByUsername(context.Background(), username)
	if err != nil || u == nil {
		t.Fatalf("user %q not found: %v", username, err)
	}
	return u
}

func (f *fixture) messages(t *testing.T, username string) []*domain.ConversationMessage {
	t.Helper()
	msgs, err := f.repo.ListMessages(context.Background(), f.user(t, username).UserID)
	if err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestNewUserFirstDayThenAdvance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	greeting, err := f.orch.InitializeSession(ctx, "default_user")
	if err != nil {
		t.Fatalf("InitializeSession failed: %v", err)
	}
	want := "Hey! I'm Anton, your AI companion for Hytribe. Let's get to know each other over the next 7 days. How are you feeling today?"
	if greeting != want {
		t.Fatalf("unexpected greeting %q", greeting)
	}

	reply, err := f.orch.HandleUserMessage(ctx, "default_user", "I feel okay")
	if err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}
	if !reply.ShowAdvanceControl {
		t.Fatal("expected advance control during onboarding")
	}
	if reply.Text != "I hear you." {
		t.Fatalf("expected sanitized reply, got %q", reply.Text)
	}
	prompt := f.gen.lastPrompt()
	if !strings.Contains(prompt, "Previous insights:\n"+want+"\n") {
		t.Fatalf("expected greeting as context:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "User: I feel okay\nAnton:") {
		t.Fatalf("unexpected prompt tail:\n%s", prompt)
	}

	adv, err := f.orch.AdvanceDay(ctx, "default_user")
	if err != nil {
		t.Fatalf("AdvanceDay failed: %v", err)
	}
	if adv.Complete {
		t.Fatal("did not expect completion after day 1")
	}
	if !strings.Contains(adv.Text, "Thank you for opening up about that.") {
		t.Fatalf("expected empathy text, got %q", adv.Text)
	}
	if !strings.Contains(adv.Text, "**Day 2/7:** What situations make you feel lonely or disconnected?") {
		t.Fatalf("expected day 2 question, got %q", adv.Text)
	}
	if !strings.Contains(f.gen.lastPrompt(), "'I feel okay'") {
		t.Fatalf("expected stored answer in empathy prompt:\n%s", f.gen.lastPrompt())
	}
	if got := f.user(t, "default_user").OnboardingStep; got != 2 {
		t.Fatalf("expected day 2, got %d", got)
	}

	resp, err := f.repo.GetOnboardingResponse(ctx, f.user(t, "default_user").UserID, 1)
	if err != nil || resp == nil {
		t.Fatalf("expected day 1 response: %v", err)
	}
	if resp.QuestionKey != "currentMood" || resp.AnswerText != "I feel okay" || resp.ReplyText != "I hear you." {
		t.Fatalf("unexpected stored response %+v", resp)
	}

	msgs := f.messages(t, "default_user")
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleAssistant || last.Day != 2 || last.Content != adv.Text {
		t.Fatalf("expected transition stored under day 2, got %+v", last)
	}
}

func TestCompletingAllDays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var adv Advance
	for day := domain.FirstDay; day <= domain.FinalDay; day++ {
		if _, err := f.orch.HandleUserMessage(ctx, "u", strings.Repeat("x", 120)); err != nil {
			t.Fatalf("day %d message failed: %v", day, err)
		}
		var err error
		adv, err = f.orch.AdvanceDay(ctx, "u")
		if err != nil {
			t.Fatalf("day %d advance failed: %v", day, err)
		}
		if adv.Complete != (day == domain.FinalDay) {
			t.Fatalf("unexpected completion flag on day %d", day)
		}
	}

	u := f.user(t, "u")
	if !u.OnboardingComplete || u.OnboardingStep != domain.CompletedStep {
		t.Fatalf("expected completed user at step 8, got %+v", u)
	}
	if !strings.HasPrefix(adv.Text, "🎉 You've completed all 7 onboarding days!\n\nHere's your personality profile:\n") {
		t.Fatalf("unexpected summary header %q", adv.Text)
	}
	for _, q := range catalog.Default().Questions() {
		if !strings.Contains(adv.Text, "**"+q.Key+"**: "+strings.Repeat("x", 100)+"...") {
			t.Fatalf("summary missing truncated %s:\n%s", q.Key, adv.Text)
		}
	}

	msgs := f.messages(t, "u")
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleSystem || last.Content != "Onboarding complete" || last.Day != domain.FinalDay {
		t.Fatalf("expected completion note, got %+v", last)
	}

	again, err := f.orch.AdvanceDay(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if again.Text != "All onboarding already complete! 🎉" || !again.Complete {
		t.Fatalf("unexpected no-op advance %+v", again)
	}
	if n := len(f.messages(t, "u")); n != len(msgs) {
		t.Fatalf("no-op advance wrote messages: %d -> %d", len(msgs), n)
	}
	if f.user(t, "u").OnboardingStep != domain.CompletedStep {
		t.Fatal("completed state must be terminal")
	}

	reply, err := f.orch.HandleUserMessage(ctx, "u", "just chatting")
	if err != nil {
		t.Fatal(err)
	}
	if reply.ShowAdvanceControl {
		t.Fatal("no advance control after completion")
	}
	responses, err := f.repo.ListOnboardingResponses(ctx, u.UserID)
	if err != nil || len(responses) != domain.FinalDay {
		t.Fatalf("free chat must not add responses: %d, %v", len(responses), err)
	}
	msgs = f.messages(t, "u")
	if msgs[len(msgs)-1].Day != domain.FinalDay {
		t.Fatalf("post-completion messages are tagged with the final day, got %d", msgs[len(msgs)-1].Day)
	}
}

func TestResubmitPolicies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name       string
		policy     domain.ResubmitPolicy
		wantAnswer string
		wantReply  string
	}{
		{name: "overwrite", policy: domain.ResubmitOverwrite, wantAnswer: "second", wantReply: "I hear you."},
		{name: "keep first", policy: domain.ResubmitKeepFirst, wantAnswer: "first", wantReply: "I hear you."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, WithResubmitPolicy(tt.policy))

			for _, answer := range []string{"first", "second"} {
				if _, err := f.orch.HandleUserMessage(ctx, "u", answer); err != nil {
					t.Fatal(err)
				}
			}
			responses, err := f.repo.ListOnboardingResponses(ctx, f.user(t, "u").UserID)
			if err != nil {
				t.Fatal(err)
			}
			if len(responses) != 1 {
				t.Fatalf("expected one response for the day, got %d", len(responses))
			}
			if responses[0].AnswerText != tt.wantAnswer || responses[0].ReplyText != tt.wantReply {
				t.Fatalf("unexpected response %+v", responses[0])
			}
		})
	}
}

func TestExportTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.ExportTranscript(ctx, "u"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if u, err := f.repo.GetUserByUsername(ctx, "u"); err != nil || u != nil {
		t.Fatalf("export must not create the user, got %+v, %v", u, err)
	}

	if _, err := f.orch.InitializeSession(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.orch.HandleUserMessage(ctx, "u", "answer"); err != nil {
			t.Fatal(err)
		}
		if _, err := f.orch.AdvanceDay(ctx, "u"); err != nil {
			t.Fatal(err)
		}
	}

	tr, err := f.orch.ExportTranscript(ctx, "u")
	if err != nil {
		t.Fatalf("ExportTranscript failed: %v", err)
	}
	if len(tr.OnboardingData) != 3 {
		t.Fatalf("expected 3 answered days, got %d", len(tr.OnboardingData))
	}
	for _, key := range []string{"currentMood", "lonelinessTriggers", "stressSources"} {
		if _, ok := tr.OnboardingData[key]; !ok {
			t.Fatalf("missing %s in export", key)
		}
	}
	msgs := f.messages(t, "u")
	if len(tr.ConversationHistory) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(tr.ConversationHistory))
	}
	for i, m := range msgs {
		if tr.ConversationHistory[i].Content != m.Content || tr.ConversationHistory[i].Type != string(m.Role) {
			t.Fatalf("history out of order at %d", i)
		}
	}
	if tr.User.OnboardingStep != 4 || tr.User.Username != "u" {
		t.Fatalf("unexpected user block %+v", tr.User)
	}
}

func TestCurrentStatusIsPure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.CurrentStatus(ctx, "u"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := f.orch.HandleUserMessage(ctx, "u", "hello"); err != nil {
		t.Fatal(err)
	}

	before := len(f.messages(t, "u"))
	first, err := f.orch.CurrentStatus(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.CurrentStatus(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if first.OnboardingStep != second.OnboardingStep ||
		first.CurrentQuestion != second.CurrentQuestion ||
		!first.CreatedAt.Equal(second.CreatedAt) ||
		!first.LastMessageAt.Equal(*second.LastMessageAt) {
		t.Fatalf("status changed between reads: %+v vs %+v", first, second)
	}
	if first.CurrentQuestion != "How are you feeling today?" {
		t.Fatalf("unexpected question %q", first.CurrentQuestion)
	}
	if after := len(f.messages(t, "u")); after != before {
		t.Fatalf("status wrote messages: %d -> %d", before, after)
	}
}

func TestMemoryIsRebuiltFromStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.InitializeSession(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.HandleUserMessage(ctx, "u", "hello"); err != nil {
		t.Fatal(err)
	}

	restarted := New(f.repo, llm.NewResponder(f.gen), catalog.Default())
	if _, err := restarted.HandleUserMessage(ctx, "u", "I'm back"); err != nil {
		t.Fatal(err)
	}
	prompt := f.gen.lastPrompt()
	if !strings.Contains(prompt, "How are you feeling today?\nI hear you.\n") {
		t.Fatalf("expected rebuilt assistant context:\n%s", prompt)
	}
	if strings.Contains(prompt, "\nhello\n") {
		t.Fatalf("user turns must not appear in context:\n%s", prompt)
	}
}

func TestReturningUserCheckIn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	answers := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	for _, a := range answers {
		if _, err := f.orch.HandleUserMessage(ctx, "u", a); err != nil {
			t.Fatal(err)
		}
		if _, err := f.orch.AdvanceDay(ctx, "u"); err != nil {
			t.Fatal(err)
		}
	}

	greeting, err := f.orch.InitializeSession(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if greeting != "Good to see you again! How have things been?" {
		t.Fatalf("unexpected check-in %q", greeting)
	}
	prompt := f.gen.lastPrompt()
	if !strings.Contains(prompt, "- relationshipGoals: a6\n- aspirations: a7") {
		t.Fatalf("expected the two most recent answers:\n%s", prompt)
	}
	if strings.Contains(prompt, "currentMood") {
		t.Fatalf("older answers must not be included:\n%s", prompt)
	}
}

func TestGenerationFailureStillPersists(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gen.err = errors.New("connection refused")
	ctx := context.Background()

	reply, err := f.orch.HandleUserMessage(ctx, "u", "hi")
	if err != nil {
		t.Fatalf("generation failures must not surface: %v", err)
	}
	if reply.Text != llm.FallbackUnavailable {
		t.Fatalf("expected fallback, got %q", reply.Text)
	}
	msgs := f.messages(t, "u")
	if len(msgs) != 2 || msgs[1].Content != llm.FallbackUnavailable {
		t.Fatalf("expected fallback to be persisted, got %+v", msgs)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, err := f.orch.HandleUserMessage(context.Background(), "u", "   \n"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if u, _ := f.repo.GetUserByUsername(context.Background(), "u"); u != nil {
		t.Fatal("rejected message must not create the user")
	}
}

func TestConcurrentAdvancesAreSerialized(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	const callers = 10
	results := make(chan Advance, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adv, err := f.orch.AdvanceDay(ctx, "u")
			if err != nil {
				t.Errorf("AdvanceDay failed: %v", err)
				return
			}
			results <- adv
		}()
	}
	wg.Wait()
	close(results)

	var transitions, summaries, noops int
	for adv := range results {
		switch {
		case !adv.Complete:
			transitions++
		case strings.HasPrefix(adv.Text, "🎉"):
			summaries++
		default:
			noops++
		}
	}
	if transitions != 6 || summaries != 1 || noops != 3 {
		t.Fatalf("unexpected outcomes: %d transitions, %d summaries, %d no-ops", transitions, summaries, noops)
	}
	if u := f.user(t, "u"); u.OnboardingStep != domain.CompletedStep {
		t.Fatalf("expected step 8, got %d", u.OnboardingStep)
	}
}

func TestChatIsStateless(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	turns := []memory.Turn{
		{Role: "assistant", Content: "earlier insight"},
		{Role: "user", Content: "private"},
	}
	got := f.orch.Chat(context.Background(), "what's up", turns)
	if got != "I hear you." {
		t.Fatalf("unexpected reply %q", got)
	}
	prompt := f.gen.lastPrompt()
	if !strings.Contains(prompt, "Previous insights:\nearlier insight\n") || strings.Contains(prompt, "private") {
		t.Fatalf("unexpected context:\n%s", prompt)
	}
	if u, _ := f.repo.GetUserByUsername(context.Background(), "default_user"); u != nil {
		t.Fatal("stateless chat must not create users")
	}
}

func TestDeleteUserForgetsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.InitializeSession(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.DeleteUser(ctx, "u"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if err := f.orch.DeleteUser(ctx, "u"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if _, err := f.orch.HandleUserMessage(ctx, "u", "hi again"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(f.gen.lastPrompt(), "Previous insights") {
		t.Fatalf("deleted user's memory leaked into new session:\n%s", f.gen.lastPrompt())
	}
}

func TestReplicasSeeEachOthersTurns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	path := filepath.Join(t.TempDir(), "anton.db")
	replica := func(reply string) (*Orchestrator, *scriptedGenerator) {
		repo, err := store.NewSQLite(path)
		if err != nil {
			t.Fatalf("NewSQLite failed: %v", err)
		}
		t.Cleanup(func() { _ = repo.Close() })

		gen := &scriptedGenerator{reply: reply}
		locks := session.NewRegistry(
			session.WithLocker(session.NewRedisLocker(client, "anton:"), session.DefaultLockTTL),
			session.WithLogger(quiet),
		)
		orch := New(repo, llm.NewResponder(gen, llm.WithLogger(quiet)), catalog.Default(),
			WithLogger(quiet), WithLocks(locks))
		return orch, gen
	}
	a, genA := replica("Noted on replica A.")
	b, _ := replica("Noted on replica B.")

	if _, err := a.HandleUserMessage(ctx, "u", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.HandleUserMessage(ctx, "u", "second"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.HandleUserMessage(ctx, "u", "third"); err != nil {
		t.Fatal(err)
	}

	prompt := genA.lastPrompt()
	if !strings.Contains(prompt, "Previous insights:\nNoted on replica A.\nNoted on replica B.\n") {
		t.Fatalf("expected context to include the other replica's reply:\n%s", prompt)
	}
}
