package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/dedup"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider"
	"github.com/jholhewres/zohabot/pkg/zohabot/provider/providertest"
	"github.com/jholhewres/zohabot/pkg/zohabot/router"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	media []string
}

func (r *recorder) Handle(_ context.Context, conv provider.Conversation, text string) router.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, conv.ID+":"+text)
	return router.RouteCommand
}

type mediaRecorder struct{ r *recorder }

func (m mediaRecorder) Handle(_ context.Context, conv provider.Conversation, snap provider.Snapshot) bool {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.media = append(m.r.media, conv.ID+":"+snap.Marker)
	return true
}

func (r *recorder) snapshot() (texts, media []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...), append([]string(nil), r.media...)
}

type probeLog struct {
	mu      sync.Mutex
	results []bool
}

func (p *probeLog) ObserveProbe(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, ok)
}

func newTestPoller(fake *providertest.Fake, window int) (*Poller, *recorder, *probeLog) {
	rec := &recorder{}
	probes := &probeLog{}
	p := New(Config{Interval: 5 * time.Millisecond, Backoff: 5 * time.Millisecond, Window: window},
		fake, dedup.New(nil, nil), mediaRecorder{rec}, rec, probes, nil)
	return p, rec, probes
}

func TestCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("disconnected probe skips polling", func(t *testing.T) {
		fake := providertest.New()
		p, _, probes := newTestPoller(fake, 15)
		if p.Cycle(ctx) {
			t.Error("expected failed cycle")
		}
		if fake.Calls("ListConversations") != 0 {
			t.Error("expected no conversation listing")
		}
		if len(probes.results) != 1 || probes.results[0] {
			t.Errorf("expected one failed probe, got %v", probes.results)
		}
	})

	t.Run("new messages are handled once", func(t *testing.T) {
		fake := providertest.New()
		fake.SetConnected(true)
		fake.SetConversations(
			provider.Conversation{ID: "dana", Name: "Dana"},
			provider.Conversation{ID: "omar", Name: "Omar"},
		)
		fake.SetSnapshot("dana", provider.Snapshot{Marker: "10:01", Text: "hi"})
		fake.SetSnapshot("omar", provider.Snapshot{Marker: "10:02", HasMedia: true})
		p, rec, _ := newTestPoller(fake, 15)

		p.Cycle(ctx)
		p.Cycle(ctx)

		texts, media := rec.snapshot()
		if len(texts) != 1 || texts[0] != "dana:hi" {
			t.Errorf("unexpected texts %v", texts)
		}
		if len(media) != 1 || media[0] != "omar:10:02" {
			t.Errorf("unexpected media %v", media)
		}

		fake.SetSnapshot("dana", provider.Snapshot{Marker: "10:03", Text: "again"})
		p.Cycle(ctx)
		texts, _ = rec.snapshot()
		if len(texts) != 2 || texts[1] != "dana:again" {
			t.Errorf("expected new marker to be handled, got %v", texts)
		}

		st := p.Stats()
		if st.Cycles != 3 || st.Handled != 2 || st.Media != 1 {
			t.Errorf("unexpected stats %+v", st)
		}
	})

	t.Run("window caps conversations", func(t *testing.T) {
		fake := providertest.New()
		fake.SetConnected(true)
		var convs []provider.Conversation
		for _, id := range []string{"a", "b", "c", "d"} {
			convs = append(convs, provider.Conversation{ID: id, Name: id})
			fake.SetSnapshot(id, provider.Snapshot{Marker: "1", Text: "x"})
		}
		fake.SetConversations(convs...)
		p, rec, _ := newTestPoller(fake, 2)

		p.Cycle(ctx)
		texts, _ := rec.snapshot()
		if len(texts) != 2 {
			t.Errorf("expected 2 handled, got %v", texts)
		}
		if fake.Calls("LatestMessage") != 2 {
			t.Errorf("expected 2 snapshot reads, got %d", fake.Calls("LatestMessage"))
		}
	})

	t.Run("outgoing messages are recorded not routed", func(t *testing.T) {
		fake := providertest.New()
		fake.SetConnected(true)
		fake.SetConversations(provider.Conversation{ID: "dana", Name: "Dana"})
		fake.SetSnapshot("dana", provider.Snapshot{Marker: "10:01", Text: "🏓 Pong! Bot is active.", Outgoing: true})
		p, rec, _ := newTestPoller(fake, 15)

		p.Cycle(ctx)
		texts, media := rec.snapshot()
		if len(texts) != 0 || len(media) != 0 {
			t.Errorf("expected nothing routed, got %v %v", texts, media)
		}
		if p.dedup.IsNew(ctx, "dana", "10:01") {
			t.Error("expected outgoing marker to be recorded")
		}
	})

	t.Run("outgoing media is not relayed", func(t *testing.T) {
		fake := providertest.New()
		fake.SetConnected(true)
		fake.SetConversations(provider.Conversation{ID: "dana", Name: "Dana"})
		fake.SetSnapshot("dana", provider.Snapshot{Marker: "10:05", HasMedia: true, MediaDigest: "profile.jpg", Outgoing: true})
		p, rec, _ := newTestPoller(fake, 15)

		p.Cycle(ctx)
		if _, media := rec.snapshot(); len(media) != 0 {
			t.Errorf("expected own image not to be relayed, got %v", media)
		}
		if p.Stats().Media != 0 {
			t.Errorf("expected no media counted, got %d", p.Stats().Media)
		}
	})

	t.Run("extraction failure is skipped and not recorded", func(t *testing.T) {
		fake := providertest.New()
		fake.SetConnected(true)
		fake.SetConversations(
			provider.Conversation{ID: "broken", Name: "Broken"},
			provider.Conversation{ID: "dana", Name: "Dana"},
		)
		fake.SetSnapshotError("broken", errors.New("element not found"))
		fake.SetSnapshot("dana", provider.Snapshot{Marker: "10:01", Text: "hi"})
		p, rec, _ := newTestPoller(fake, 15)

		p.Cycle(ctx)
		texts, _ := rec.snapshot()
		if len(texts) != 1 || texts[0] != "dana:hi" {
			t.Errorf("expected the healthy conversation to be handled, got %v", texts)
		}
		if p.Stats().Failures != 1 {
			t.Errorf("expected 1 failure, got %d", p.Stats().Failures)
		}
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	fake := providertest.New()
	fake.SetConnected(true)
	p, _, _ := newTestPoller(fake, 15)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Cycles < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	if p.Stats().Cycles < 2 {
		t.Errorf("expected at least 2 cycles, got %d", p.Stats().Cycles)
	}
}

func TestRunWaits(t *testing.T) {
	run := func(t *testing.T, fake *providertest.Fake, cfg Config) {
		t.Helper()
		p := New(cfg, fake, dedup.New(nil, nil), mediaRecorder{&recorder{}}, &recorder{}, nil, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			p.Run(ctx)
			close(done)
		}()
		time.Sleep(100 * time.Millisecond)
		cancel()
		<-done
	}

	t.Run("failed probe uses backoff", func(t *testing.T) {
		fake := providertest.New()
		run(t, fake, Config{Interval: time.Hour, Backoff: 5 * time.Millisecond})
		if n := fake.Calls("IsConnected"); n < 3 {
			t.Errorf("expected repeated probes on the backoff wait, got %d", n)
		}
		if n := fake.Calls("ListConversations"); n != 0 {
			t.Errorf("expected no listing while disconnected, got %d", n)
		}
	})

	t.Run("connected cycle uses interval", func(t *testing.T) {
		fake := providertest.New()
		fake.SetConnected(true)
		run(t, fake, Config{Interval: time.Hour, Backoff: 5 * time.Millisecond})
		if n := fake.Calls("IsConnected"); n != 1 {
			t.Errorf("expected one probe before the interval wait, got %d", n)
		}
		if n := fake.Calls("ListConversations"); n != 1 {
			t.Errorf("expected one listing, got %d", n)
		}
	})
}
