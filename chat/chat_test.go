package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

type fakeConn struct {
	mu       sync.Mutex
	said     []string
	joined   []string
	onMsg    func(twitch.PrivateMessage)
	stop     chan struct{}
	stopOnce sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{stop: make(chan struct{})} }

func (f *fakeConn) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, channel+": "+text)
}

func (f *fakeConn) Join(channels ...string) { f.joined = append(f.joined, channels...) }

func (f *fakeConn) Connect() error {
	<-f.stop
	return twitch.ErrClientDisconnected
}

func (f *fakeConn) Disconnect() error {
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeConn) OnPrivateMessage(cb func(twitch.PrivateMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMsg = cb
}

func (f *fakeConn) callback() func(twitch.PrivateMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onMsg
}

func (f *fakeConn) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

type fakeTokens struct {
	access string
	err    error
}

func (f fakeTokens) GetOAuthToken(context.Context, string) (string, string, time.Time, string, error) {
	return f.access, "", time.Time{}, "", f.err
}

func TestResolveToken(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		env     string
		store   TokenStore
		want    string
		wantErr bool
	}{
		{name: "env wins", env: "abc", store: fakeTokens{access: "stored"}, want: "oauth:abc"},
		{name: "env already prefixed", env: "oauth:abc", want: "oauth:abc"},
		{name: "stored fallback", store: fakeTokens{access: "stored"}, want: "oauth:stored"},
		{name: "store error", store: fakeTokens{err: errors.New("db down")}, wantErr: true},
		{name: "nothing", store: fakeTokens{}, wantErr: true},
		{name: "no store", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveToken(ctx, tt.env, tt.store)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionUsesMe(t *testing.T) {
	conn := newFakeConn()
	c := newClient(conn, "SrTeclados")
	if err := c.Action(context.Background(), "", "Atenção"); err != nil {
		t.Fatal(err)
	}
	if err := c.Say(context.Background(), "other", "oi"); err != nil {
		t.Fatal(err)
	}
	got := conn.lines()
	if len(got) != 2 || got[0] != "srteclados: /me Atenção" || got[1] != "other: oi" {
		t.Errorf("said = %v", got)
	}
}

func TestSayHonoursCancelledContext(t *testing.T) {
	conn := newFakeConn()
	c := newClient(conn, "srteclados")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Say(ctx, "", "x"); err == nil {
		t.Error("Say() with cancelled context should fail")
	}
	if len(conn.lines()) != 0 {
		t.Error("message sent despite cancelled context")
	}
}

func TestRunForwardsMessagesAndStopsOnCancel(t *testing.T) {
	conn := newFakeConn()
	c := newClient(conn, "srteclados")
	got := make(chan Message, 1)
	c.OnMessage(func(ctx context.Context, msg Message) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	deadline := time.After(time.Second)
	for conn.callback() == nil {
		select {
		case <-deadline:
			t.Fatal("handler never registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	conn.callback()(twitch.PrivateMessage{
		ID:      "m1",
		Channel: "srteclados",
		Message: "!pegar",
		User:    twitch.User{ID: "42", Name: "viewer", DisplayName: "Viewer"},
	})
	select {
	case msg := <-got:
		if msg.Text != "!pegar" || msg.DisplayName != "Viewer" || msg.UserID != "42" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(conn.joined) != 1 || conn.joined[0] != "srteclados" {
		t.Errorf("joined = %v", conn.joined)
	}
}

func TestMessagePlatform(t *testing.T) {
	m := Message{ID: "1", Channel: "srteclados", UserID: "99", UserName: "fulano", DisplayName: "Fulano", Text: "!pegar"}
	got := m.Platform()
	if got.AuthorName != "Fulano" || got.ChannelName != "srteclados" || got.Content != "!pegar" || got.AuthorID != "99" {
		t.Errorf("Platform() = %+v", got)
	}
	m.DisplayName = ""
	if got := m.Platform(); got.AuthorName != "fulano" {
		t.Errorf("AuthorName without display name = %q, want fulano", got.AuthorName)
	}
}
