// Package history keeps the message feeds of open channels consistent with
// REST history and the live event stream.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/voicesync/internal/domain"
	"github.com/rs/zerolog"
)

var ErrNotOpen = errors.New("channel not open")

// API is the REST surface the reconciler needs.
type API interface {
	FetchHistory(ctx context.Context, serverID, channelID domain.ID) ([]domain.Message, error)
	SendMessage(ctx context.Context, serverID, channelID domain.ID, content string) (domain.Message, error)
	EditMessage(ctx context.Context, serverID, channelID, messageID domain.ID, content string) (domain.Message, error)
	DeleteMessage(ctx context.Context, serverID, channelID, messageID domain.ID) error
}

type Reconciler struct {
	api API
	log zerolog.Logger

	mu       sync.Mutex
	feeds    map[domain.ID]*Feed
	onChange []func(channelID domain.ID)
}

func NewReconciler(api API, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		api:   api,
		log:   logger.With().Str("module", "history").Logger(),
		feeds: make(map[domain.ID]*Feed),
	}
}

// OnChange registers fn, called after a feed changes.
func (r *Reconciler) OnChange(fn func(channelID domain.ID)) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Open subscribes to channelID and loads its history in the background.
// Opening an already open channel returns the existing feed.
func (r *Reconciler) Open(ctx context.Context, serverID, channelID domain.ID) *Feed {
	r.mu.Lock()
	if f, ok := r.feeds[channelID]; ok && f.Subscription().ServerID == serverID {
		r.mu.Unlock()
		return f
	}
	if old, ok := r.feeds[channelID]; ok {
		old.close()
	}
	// The fetch generation starts before the feed is visible, so live events
	// routed to it are buffered for the first merge.
	f := newFeed(serverID, channelID)
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gen := f.beginFetch(cancel)
	r.feeds[channelID] = f
	r.mu.Unlock()

	r.log.Info().Str("server_id", serverID.String()).Str("channel_id", channelID.String()).Msg("channel opened")
	r.run(fetchCtx, cancel, f, gen)
	return f
}

// Close drops the subscription. In-flight fetches for it are discarded.
func (r *Reconciler) Close(channelID domain.ID) {
	r.mu.Lock()
	f, ok := r.feeds[channelID]
	delete(r.feeds, channelID)
	r.mu.Unlock()
	if ok {
		f.close()
		r.log.Info().Str("channel_id", channelID.String()).Msg("channel closed")
	}
}

func (r *Reconciler) Feed(channelID domain.ID) (*Feed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[channelID]
	return f, ok
}

// Open channel ids.
func (r *Reconciler) Channels() []domain.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ID, 0, len(r.feeds))
	for id := range r.feeds {
		out = append(out, id)
	}
	return out
}

// Resync refetches every open channel, typically after a reconnect, and
// waits for the merges.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	feeds := make([]*Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		feeds = append(feeds, f)
	}
	r.mu.Unlock()

	errs := make([]error, len(feeds))
	var wg sync.WaitGroup
	for i, f := range feeds {
		done := r.fetch(ctx, f)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = <-done
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// fetch runs one history request for f. The returned channel yields the
// fetch error, if any, once the result has been merged or discarded.
func (r *Reconciler) fetch(ctx context.Context, f *Feed) <-chan error {
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return r.run(fetchCtx, cancel, f, f.beginFetch(cancel))
}

func (r *Reconciler) run(fetchCtx context.Context, cancel context.CancelFunc, f *Feed, gen uint64) <-chan error {
	done := make(chan error, 1)
	sub := f.Subscription()

	go func() {
		defer cancel()
		msgs, err := r.api.FetchHistory(fetchCtx, sub.ServerID, sub.ChannelID)
		if err != nil {
			r.log.Warn().Err(err).Str("channel_id", sub.ChannelID.String()).Msg("history fetch failed")
		}
		if f.merge(gen, msgs, err) {
			r.notify(sub.ChannelID)
		} else {
			r.log.Debug().Str("channel_id", sub.ChannelID.String()).Uint64("gen", gen).Msg("stale history dropped")
		}
		done <- err
	}()
	return done
}

func (r *Reconciler) ApplyCreate(m domain.Message) {
	r.apply(m.ChannelID, op{kind: opCreate, msg: m})
}

func (r *Reconciler) ApplyUpdate(m domain.Message) {
	r.apply(m.ChannelID, op{kind: opUpdate, msg: m})
}

func (r *Reconciler) ApplyDelete(channelID, messageID domain.ID) {
	r.apply(channelID, op{kind: opDelete, id: messageID})
}

func (r *Reconciler) apply(channelID domain.ID, o op) {
	f, ok := r.Feed(channelID)
	if !ok {
		r.log.Debug().Str("channel_id", channelID.String()).Msg("event for closed channel ignored")
		return
	}
	if f.live(o) {
		r.notify(channelID)
	}
}

// Send posts a message and applies the server's copy. The MESSAGE_CREATE
// echo that follows is then a duplicate and dropped.
func (r *Reconciler) Send(ctx context.Context, channelID domain.ID, content string) (domain.Message, error) {
	f, ok := r.Feed(channelID)
	if !ok {
		return domain.Message{}, fmt.Errorf("send to %s: %w", channelID, ErrNotOpen)
	}
	sub := f.Subscription()
	msg, err := r.api.SendMessage(ctx, sub.ServerID, channelID, content)
	if err != nil {
		return domain.Message{}, fmt.Errorf("send to %s: %w", channelID, err)
	}
	if msg.ChannelID.Empty() {
		msg.ChannelID = channelID
	}
	r.ApplyCreate(msg)
	return msg, nil
}

func (r *Reconciler) Edit(ctx context.Context, channelID, messageID domain.ID, content string) error {
	f, ok := r.Feed(channelID)
	if !ok {
		return fmt.Errorf("edit in %s: %w", channelID, ErrNotOpen)
	}
	msg, err := r.api.EditMessage(ctx, f.Subscription().ServerID, channelID, messageID, content)
	if err != nil {
		return fmt.Errorf("edit %s: %w", messageID, err)
	}
	if msg.ID.Empty() {
		msg.ID = messageID
	}
	if msg.ChannelID.Empty() {
		msg.ChannelID = channelID
	}
	r.ApplyUpdate(msg)
	return nil
}

func (r *Reconciler) Delete(ctx context.Context, channelID, messageID domain.ID) error {
	f, ok := r.Feed(channelID)
	if !ok {
		return fmt.Errorf("delete in %s: %w", channelID, ErrNotOpen)
	}
	if err := r.api.DeleteMessage(ctx, f.Subscription().ServerID, channelID, messageID); err != nil {
		return fmt.Errorf("delete %s: %w", messageID, err)
	}
	r.ApplyDelete(channelID, messageID)
	return nil
}

func (r *Reconciler) notify(channelID domain.ID) {
	r.mu.Lock()
	fns := slices.Clone(r.onChange)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(channelID)
	}
}
