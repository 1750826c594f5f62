package reactor

import (
	"context"
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// PresenceSnapshot is a copy of the online users view.
type PresenceSnapshot struct {
	Users    []OnlineUser `json:"users"`
	Total    int          `json:"total"`
	PageSize int          `json:"page_size"`
}

// PresenceTracker maintains the online users list.
//
// A user coming online triggers a re-fetch of the first page at the current
// page size. A user going offline is removed locally and the total is
// decremented without a fetch; the total also counts users beyond the loaded
// page, so it is decremented even when the user is not in the list.
type PresenceTracker struct {
	api      PresenceAPI
	pageStep int
	logger   zerolog.Logger

	mu       sync.Mutex
	users    []OnlineUser
	total    int
	pageSize int
	issued   uint64
	applied  uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPresenceTracker creates a tracker. api may be nil, in which case
// online events are ignored and only local removals apply.
func NewPresenceTracker(api PresenceAPI, pageSize int, logger zerolog.Logger) *PresenceTracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &PresenceTracker{
		api:      api,
		pageSize: pageSize,
		pageStep: pageSize,
		logger:   logger.With().Str("component", "presence").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle consumes socket messages.
func (p *PresenceTracker) Handle(msg types.Message) {
	ev, ok := types.Parse(msg).(types.UserPresence)
	if !ok || ev.UserID == "" {
		return
	}
	if ev.Online {
		p.Refresh()
		return
	}
	p.remove(ev.UserID)
}

// Load fetches the first page synchronously.
func (p *PresenceTracker) Load(ctx context.Context) error {
	if p.api == nil {
		return nil
	}
	seq, limit := p.nextRequest()
	return p.fetch(ctx, seq, limit)
}

// Refresh re-fetches the first page at the current page size in the
// background.
func (p *PresenceTracker) Refresh() {
	if p.api == nil || p.ctx.Err() != nil {
		return
	}
	seq, limit := p.nextRequest()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer contain(p.logger, "get online users")
		if err := p.fetch(p.ctx, seq, limit); err != nil {
			p.logger.Warn().Err(err).Int("limit", limit).Msg("presence fetch failed")
		}
	}()
}

// LoadMore grows the page size by one page and re-fetches.
func (p *PresenceTracker) LoadMore() {
	p.mu.Lock()
	p.pageSize += p.pageStep
	p.mu.Unlock()
	p.Refresh()
}

// Snapshot returns a copy of the current view.
func (p *PresenceTracker) Snapshot() PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PresenceSnapshot{
		Users:    append([]OnlineUser(nil), p.users...),
		Total:    p.total,
		PageSize: p.pageSize,
	}
}

// Close cancels in-flight fetches and waits for them.
func (p *PresenceTracker) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *PresenceTracker) nextRequest() (uint64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued++
	return p.issued, p.pageSize
}

// fetch applies a page unless a newer request has already been applied.
func (p *PresenceTracker) fetch(ctx context.Context, seq uint64, limit int) error {
	page, err := p.api.GetOnlineUsers(ctx, limit, 0)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq < p.applied {
		p.logger.Debug().Uint64("seq", seq).Msg("stale presence page dropped")
		return nil
	}
	p.applied = seq
	p.users = append([]OnlineUser(nil), page.Users...)
	p.total = page.Total
	return nil
}

func (p *PresenceTracker) remove(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := make([]OnlineUser, 0, len(p.users))
	for _, u := range p.users {
		if u.ID != userID {
			kept = append(kept, u)
		}
	}
	p.users = kept
	if p.total > 0 {
		p.total--
	}
}
