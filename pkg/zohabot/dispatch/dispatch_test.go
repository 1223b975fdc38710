package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jholhewres/zohabot/pkg/zohabot/provider/providertest"
)

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("text delivered", func(t *testing.T) {
		fake := providertest.New()
		d := New(Config{Settle: -1}, fake, nil)
		r := d.SendText(ctx, "dana", "hi")
		if r.Outcome != Delivered || r.Err != nil {
			t.Fatalf("expected delivered, got %+v", r)
		}
		if got := fake.SentTo("dana"); len(got) != 1 || got[0] != "hi" {
			t.Errorf("unexpected sends: %v", got)
		}
	})

	t.Run("text waits settle delay", func(t *testing.T) {
		d := New(Config{Settle: 30 * time.Millisecond}, providertest.New(), nil)
		start := time.Now()
		d.SendText(ctx, "dana", "hi")
		if time.Since(start) < 30*time.Millisecond {
			t.Error("expected settle delay after send")
		}
	})

	t.Run("text failure is dropped", func(t *testing.T) {
		fake := providertest.New()
		boom := errors.New("compose box missing")
		fake.SetSendErrors(boom, nil)
		r := New(Config{Settle: -1}, fake, nil).SendText(ctx, "dana", "hi")
		if r.Outcome != Dropped || !errors.Is(r.Err, boom) || r.OK() {
			t.Errorf("expected dropped with error, got %+v", r)
		}
	})

	t.Run("image delivered", func(t *testing.T) {
		fake := providertest.New()
		r := New(Config{Settle: -1}, fake, nil).SendImage(ctx, "dana", "assets/profile.jpg")
		if r.Outcome != Delivered {
			t.Fatalf("expected delivered, got %+v", r)
		}
		sent := fake.Sent()
		if len(sent) != 1 || sent[0].Image != "assets/profile.jpg" {
			t.Errorf("unexpected sends: %+v", sent)
		}
	})

	t.Run("image failure degrades to text", func(t *testing.T) {
		fake := providertest.New()
		fake.SetSendErrors(nil, errors.New("attach button missing"))
		r := New(Config{Settle: -1}, fake, nil).SendImage(ctx, "dana", "assets/profile.jpg")
		if r.Outcome != Degraded || r.Err == nil {
			t.Fatalf("expected degraded, got %+v", r)
		}
		got := fake.SentTo("dana")
		if len(got) != 1 || got[0] != "📸 Image: assets/profile.jpg" {
			t.Errorf("unexpected fallback: %v", got)
		}
	})

	t.Run("image and fallback failure is dropped", func(t *testing.T) {
		fake := providertest.New()
		fake.SetSendErrors(errors.New("no text"), errors.New("no image"))
		r := New(Config{Settle: -1}, fake, nil).SendImage(ctx, "dana", "x.jpg")
		if r.Outcome != Dropped {
			t.Errorf("expected dropped, got %+v", r)
		}
		if len(fake.Sent()) != 0 {
			t.Errorf("expected no sends, got %+v", fake.Sent())
		}
	})
}
