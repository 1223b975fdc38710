package provider

import (
	"context"
	"log/slog"
	"sync"
)

// Worker owns a ConversationProvider and executes every call on a single
// goroutine. Callers on other goroutines (the poller, HTTP handlers, the
// pairing coordinator) submit requests and block until theirs completes, so
// the provider never sees two operations at once. Because each call is its
// own request, a long poll cycle made of many calls cannot starve a pairing
// request: the pairing call is picked up between two poll calls.
//
// Worker itself implements ConversationProvider.
type Worker struct {
	inner  ConversationProvider
	logger *slog.Logger

	reqs chan request
	stop chan struct{}
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context, p ConversationProvider)
	done chan struct{}
}

// NewWorker starts a worker goroutine owning p.
func NewWorker(p ConversationProvider, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		inner:  p,
		logger: logger.With("component", "provider-worker", "provider", p.Name()),
		reqs:   make(chan request),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case req := <-w.reqs:
			w.exec(req)
		}
	}
}

func (w *Worker) exec(req request) {
	defer close(req.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("provider call panicked", "panic", r)
		}
	}()
	if req.ctx.Err() != nil {
		return
	}
	req.fn(req.ctx, w.inner)
}

// do hands fn to the worker goroutine and waits for it to finish.
// fn is not called when ctx is already done or the worker is closed.
func (w *Worker) do(ctx context.Context, fn func(ctx context.Context, p ConversationProvider)) error {
	req := request{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case w.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stop:
		return ErrClosed
	}
	<-req.done
	return ctx.Err()
}

// Name returns the wrapped provider's name.
func (w *Worker) Name() string { return w.inner.Name() }

// ListConversations implements ConversationProvider.
func (w *Worker) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	var (
		convs []Conversation
		err   error
	)
	if derr := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		convs, err = p.ListConversations(ctx, limit)
	}); derr != nil {
		return nil, derr
	}
	return convs, err
}

// LatestMessage implements ConversationProvider.
func (w *Worker) LatestMessage(ctx context.Context, conv Conversation) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	if derr := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		snap, err = p.LatestMessage(ctx, conv)
	}); derr != nil {
		return Snapshot{}, derr
	}
	return snap, err
}

// SendText implements ConversationProvider.
func (w *Worker) SendText(ctx context.Context, target, text string) error {
	var err error
	if derr := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		err = p.SendText(ctx, target, text)
	}); derr != nil {
		return derr
	}
	return err
}

// SendImage implements ConversationProvider.
func (w *Worker) SendImage(ctx context.Context, target, path string) error {
	var err error
	if derr := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		err = p.SendImage(ctx, target, path)
	}); derr != nil {
		return derr
	}
	return err
}

// IsConnected implements ConversationProvider. A closed worker or cancelled
// context reports false.
func (w *Worker) IsConnected(ctx context.Context) bool {
	var ok bool
	if err := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		ok = p.IsConnected(ctx)
	}); err != nil {
		return false
	}
	return ok
}

// BeginPairing implements ConversationProvider.
func (w *Worker) BeginPairing(ctx context.Context) (QR, error) {
	var (
		qr  QR
		err error
	)
	if derr := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		qr, err = p.BeginPairing(ctx)
	}); derr != nil {
		return QR{}, derr
	}
	return qr, err
}

// ExportSession implements ConversationProvider.
func (w *Worker) ExportSession(ctx context.Context) ([]byte, error) {
	var (
		blob []byte
		err  error
	)
	if derr := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		blob, err = p.ExportSession(ctx)
	}); derr != nil {
		return nil, derr
	}
	return blob, err
}

// RestoreSession implements ConversationProvider.
func (w *Worker) RestoreSession(ctx context.Context, blob []byte) error {
	var err error
	if derr := w.do(ctx, func(ctx context.Context, p ConversationProvider) {
		err = p.RestoreSession(ctx, blob)
	}); derr != nil {
		return derr
	}
	return err
}

// Close stops the worker goroutine, waits for the in-flight call to finish
// and closes the wrapped provider. Safe to call more than once.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.closeErr = w.inner.Close()
	})
	return w.closeErr
}
