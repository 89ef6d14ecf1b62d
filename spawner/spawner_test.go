package spawner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srteclados/clackbot/ledger"
	"github.com/srteclados/clackbot/store"
	"github.com/srteclados/clackbot/twitchapi"
)

var testNow = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

type fakeStream struct {
	stream *twitchapi.Stream
	err    error
}

func (f *fakeStream) GetCurrentStream(context.Context, string) (*twitchapi.Stream, error) {
	return f.stream, f.err
}

type fakeChat struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeChat) Action(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, text)
	return nil
}

type overlayCall struct {
	kind, animation, title, text string
	endsAt                       time.Time
}

type recordingOverlay struct {
	mu    sync.Mutex
	calls []overlayCall
}

func (r *recordingOverlay) Notify(_ context.Context, animation, title, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, overlayCall{kind: "overlay", animation: animation, title: title, text: text})
	return nil
}

func (r *recordingOverlay) Timer(_ context.Context, title string, endsAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, overlayCall{kind: "timer", title: title, endsAt: endsAt})
	return nil
}

type harness struct {
	st      *store.Store
	stream  *fakeStream
	chat    *fakeChat
	ledger  *ledger.Memory
	overlay *recordingOverlay
	sp      *Spawner
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:      store.NewMemory(store.DefaultSessionPolicy()).Store(),
		stream:  &fakeStream{stream: &twitchapi.Stream{UserLogin: "srteclados", Title: "live"}},
		chat:    &fakeChat{},
		ledger:  ledger.NewMemory(),
		overlay: &recordingOverlay{},
		now:     testNow,
	}
	h.ledger.AddChannel("announcements")
	h.sp = New(h.st, h.stream, h.chat, h.ledger, h.overlay, Config{TwitchChannel: "srteclados", AlertRole: "42"})
	h.sp.now = func() time.Time { return h.now }
	return h
}

func (h *harness) check(t *testing.T) error {
	t.Helper()
	return h.sp.Check(context.Background())
}

func (h *harness) pending(t *testing.T) []store.Session {
	t.Helper()
	p, err := h.st.Sessions.Pending(context.Background(), h.now)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (h *harness) sent() []string {
	var out []string
	for _, m := range h.ledger.Sent() {
		out = append(out, m.Text)
	}
	return out
}

func TestCheckActivatesCurrentSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := &store.Session{StartsAt: testNow.Add(-time.Minute), EndsAt: testNow.Add(5 * time.Minute), Duration: 5, Bonus: 10}
	if err := h.st.Sessions.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	if err := h.check(t); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	got, err := h.st.Sessions.Get(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(testNow) {
		t.Errorf("ProcessedAt = %v, want %v", got.ProcessedAt, testNow)
	}
	if len(h.overlay.calls) != 2 {
		t.Fatalf("overlay calls = %+v, want notify and timer", h.overlay.calls)
	}
	notify, timer := h.overlay.calls[0], h.overlay.calls[1]
	if notify.animation != "coins" || notify.title != "RODADA DE CLACKS" || !strings.Contains(notify.text, "acumular 10 clacks") {
		t.Errorf("notify = %+v", notify)
	}
	if timer.title != "PEGAR 10 CLACKS" || !timer.endsAt.Equal(s.EndsAt) {
		t.Errorf("timer = %+v", timer)
	}
	if len(h.chat.actions) != 1 {
		t.Fatalf("actions = %v, want 1", h.chat.actions)
	}
	if a := h.chat.actions[0]; !strings.Contains(a, "5 minuto(s)") || !strings.Contains(a, "10 clack(s)") {
		t.Errorf("action = %q", a)
	}

	// Same state again: no second activation.
	if err := h.check(t); err != nil {
		t.Fatalf("second Check() error = %v", err)
	}
	if len(h.overlay.calls) != 2 || len(h.chat.actions) != 1 {
		t.Errorf("second tick announced again: overlay=%d actions=%d", len(h.overlay.calls), len(h.chat.actions))
	}
}

func TestCheckCreatesOneSession(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		if err := h.check(t); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}
	p := h.pending(t)
	if len(p) != 1 {
		t.Fatalf("pending sessions = %d, want 1", len(p))
	}
	if p[0].StartsAt.Before(testNow.Add(10 * time.Minute)) {
		t.Errorf("StartsAt = %v, want at least the minimum gap after now", p[0].StartsAt)
	}
	if len(h.overlay.calls) != 0 {
		t.Errorf("a pending session must not be announced: %+v", h.overlay.calls)
	}
}

func TestCheckOfflineSkipsSessions(t *testing.T) {
	h := newHarness(t)
	h.stream.stream = nil
	if err := h.st.GroupBuys.Create(context.Background(), &store.GroupBuy{Name: "GMK Olivia", URL: "https://gb", StartsAt: testNow.Add(-time.Hour), EndsAt: testNow.Add(72 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if err := h.check(t); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if p := h.pending(t); len(p) != 0 {
		t.Errorf("offline tick created %d sessions", len(p))
	}
	if st := h.sp.Status(); st.Live || !st.LastTick.Equal(testNow) {
		t.Errorf("Status() = %+v", st)
	}
	if sent := h.sent(); len(sent) != 1 || sent[0] != "<@&42> **GMK Olivia** começou - https://gb" {
		t.Errorf("sent = %q, want the group buy start", sent)
	}
}

func TestCheckRaffleAnnouncedOnce(t *testing.T) {
	h := newHarness(t)
	if err := h.st.Raffles.Create(context.Background(), &store.Raffle{Name: "Teclado Novo", EndsAt: testNow.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := h.check(t); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}
	if len(h.overlay.calls) != 2 {
		t.Fatalf("overlay calls = %+v, want one timer and one notify", h.overlay.calls)
	}
	timer, notify := h.overlay.calls[0], h.overlay.calls[1]
	if timer.kind != "timer" || timer.title != "SORTEIO TECLADO NOVO" || !timer.endsAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("timer = %+v", timer)
	}
	if notify.animation != "fireworks" || notify.title != "SORTEIO ATIVO!" || !strings.Contains(notify.text, "<b>Teclado Novo</b>") {
		t.Errorf("notify = %+v", notify)
	}
	if p := h.pending(t); len(p) != 0 {
		t.Errorf("raffle tick created %d sessions", len(p))
	}
}

func TestCheckStreamFailureKeepsDiscordPath(t *testing.T) {
	h := newHarness(t)
	h.stream.err = errors.New("helix down")
	if err := h.st.GroupBuys.Create(context.Background(), &store.GroupBuy{Name: "GMK Olivia", URL: "https://gb", StartsAt: testNow.Add(-time.Hour), EndsAt: testNow.Add(72 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	err := h.check(t)
	if err == nil || !strings.Contains(err.Error(), "helix down") {
		t.Fatalf("Check() error = %v, want the stream failure", err)
	}
	if len(h.sent()) != 1 {
		t.Errorf("group buy not announced when the stream check failed: %q", h.sent())
	}
}

func TestCheckDiscordGroupBuyPhases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gb := &store.GroupBuy{Name: "GMK Olivia", URL: "https://gb", StartsAt: testNow.Add(2 * time.Hour), EndsAt: testNow.Add(3 * time.Hour)}
	if err := h.st.GroupBuys.Create(ctx, gb); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		at   time.Time
		want []string
	}{
		// The end is within the lead but the group buy has not started: no end warning.
		{testNow, []string{"<@&42> **GMK Olivia** começa em 2 horas - https://gb"}},
		{testNow.Add(time.Hour), nil},
		{testNow.Add(2*time.Hour + time.Minute), []string{
			"<@&42> **GMK Olivia** começou - https://gb",
			"<@&42> **GMK Olivia** termina em uma hora - https://gb",
		}},
		{testNow.Add(2*time.Hour + 30*time.Minute), nil},
		{testNow.Add(3*time.Hour + time.Minute), []string{"<@&42> **GMK Olivia** terminou"}},
		{testNow.Add(4 * time.Hour), nil},
	}
	seen := 0
	for _, step := range steps {
		if err := h.sp.CheckDiscord(ctx, step.at); err != nil {
			t.Fatalf("CheckDiscord(%v) error = %v", step.at, err)
		}
		sent := h.sent()[seen:]
		seen += len(sent)
		if len(sent) != len(step.want) {
			t.Fatalf("at %v sent %q, want %q", step.at, sent, step.want)
		}
		for i := range sent {
			if sent[i] != step.want[i] {
				t.Errorf("at %v sent[%d] = %q, want %q", step.at, i, sent[i], step.want[i])
			}
		}
	}
}

func TestCheckDiscordWarnsFarFutureStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gb := &store.GroupBuy{Name: "GMK Olivia", URL: "https://gb", StartsAt: testNow.Add(72 * time.Hour), EndsAt: testNow.Add(240 * time.Hour)}
	if err := h.st.GroupBuys.Create(ctx, gb); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := h.sp.CheckDiscord(ctx, testNow.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"<@&42> **GMK Olivia** começa em 3 dias - https://gb"}
	if got := h.sent(); len(got) != 1 || got[0] != want[0] {
		t.Errorf("sent = %q, want %q", got, want)
	}
}

func TestCheckDiscordWarnLeadHoldsCountdowns(t *testing.T) {
	h := newHarness(t)
	h.sp.cfg.WarnLead = 24 * time.Hour
	ctx := context.Background()
	gb := &store.GroupBuy{Name: "GMK Olivia", URL: "https://gb", StartsAt: testNow.Add(72 * time.Hour), EndsAt: testNow.Add(240 * time.Hour)}
	if err := h.st.GroupBuys.Create(ctx, gb); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		at   time.Time
		want []string
	}{
		{testNow, nil},
		{testNow.Add(52 * time.Hour), []string{"<@&42> **GMK Olivia** começa em 20 horas - https://gb"}},
		// Started, but the end is still a week away.
		{testNow.Add(73 * time.Hour), []string{"<@&42> **GMK Olivia** começou - https://gb"}},
		{testNow.Add(220 * time.Hour), []string{"<@&42> **GMK Olivia** termina em 20 horas - https://gb"}},
	}
	seen := 0
	for _, step := range steps {
		if err := h.sp.CheckDiscord(ctx, step.at); err != nil {
			t.Fatalf("CheckDiscord(%v) error = %v", step.at, err)
		}
		sent := h.sent()[seen:]
		seen += len(sent)
		if strings.Join(sent, "|") != strings.Join(step.want, "|") {
			t.Errorf("at %v sent %q, want %q", step.at, sent, step.want)
		}
	}
}

func TestCheckDiscordDisabledWithoutRole(t *testing.T) {
	h := newHarness(t)
	h.sp.cfg.AlertRole = ""
	if err := h.st.GroupBuys.Create(context.Background(), &store.GroupBuy{Name: "x", URL: "u", StartsAt: testNow.Add(-time.Hour), EndsAt: testNow.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := h.sp.CheckDiscord(context.Background(), testNow); err != nil {
		t.Fatal(err)
	}
	if len(h.sent()) != 0 {
		t.Errorf("sent = %q, want nothing", h.sent())
	}
}

func TestCheckDiscordMissingChannel(t *testing.T) {
	h := newHarness(t)
	h.sp.cfg.AnnounceChannel = "nowhere"
	if err := h.sp.CheckDiscord(context.Background(), testNow); err == nil {
		t.Error("CheckDiscord() with a missing channel should fail")
	}
}

func TestStartSpawnerJobTicksImmediately(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartSpawnerJob(ctx, h.sp, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		v, err := h.st.KV.Get(context.Background(), HeartbeatKey)
		if err != nil {
			t.Fatal(err)
		}
		if v != "" {
			if v != testNow.Format(time.RFC3339) {
				t.Errorf("heartbeat = %q", v)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no heartbeat after the first tick")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop after cancel")
	}
}
