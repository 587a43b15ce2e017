package tmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPoolExhausted is returned when no handle becomes available within the
// acquire timeout. Callers treat this as a transient per-operation failure,
// never as fatal to a cycle.
var ErrPoolExhausted = errors.New("tmux: connection pool exhausted")

// PoolConfig configures the connection pool.
type PoolConfig struct {
	MinSize        int
	MaxSize        int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

// DialFunc creates a new handle.
type DialFunc func(ctx context.Context) (*Conn, error)

// Pool is a bounded pool of reusable tmux handles. It grows lazily up to
// MaxSize and shrinks handles idle longer than IdleTimeout back down to
// MinSize. Never more than MaxSize handles exist at once.
type Pool struct {
	cfg  PoolConfig
	dial DialFunc

	mu      sync.Mutex
	created int
	closed  bool

	idle chan *Conn

	reapStop chan struct{}
	reapDone chan struct{}
}

// NewPool creates a pool that dials real tmux handles for the given client.
// Pool construction fails fast on invalid sizing; this is one of the few
// fatal startup errors.
func NewPool(client *Client, cfg PoolConfig) (*Pool, error) {
	dial := func(ctx context.Context) (*Conn, error) {
		conn := newConn(client)
		if err := conn.Ping(ctx); err != nil {
			return nil, fmt.Errorf("dial tmux: %w", err)
		}
		return conn, nil
	}
	return NewPoolWithDial(cfg, dial)
}

// NewPoolWithDial creates a pool with a custom dialer. Tests use this to
// count handle churn against a fake multiplexer.
func NewPoolWithDial(cfg PoolConfig, dial DialFunc) (*Pool, error) {
	if cfg.MinSize < 1 {
		return nil, fmt.Errorf("pool min size must be >= 1, got %d", cfg.MinSize)
	}
	if cfg.MaxSize < cfg.MinSize {
		return nil, fmt.Errorf("pool max size (%d) must be >= min size (%d)", cfg.MaxSize, cfg.MinSize)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}

	p := &Pool{
		cfg:      cfg,
		dial:     dial,
		idle:     make(chan *Conn, cfg.MaxSize),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		go p.reapLoop()
	} else {
		close(p.reapDone)
	}
	return p, nil
}

// Acquire returns a handle, blocking until one is available or the acquire
// timeout elapses (ErrPoolExhausted). The caller must Release the handle.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	// Fast path: an idle handle is ready.
	select {
	case conn := <-p.idle:
		return conn, nil
	default:
	}

	// Lazy growth up to MaxSize.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool closed")
	}
	if p.created < p.cfg.MaxSize {
		p.created++
		p.mu.Unlock()

		conn, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return conn, nil
	}
	p.mu.Unlock()

	// At capacity: wait for a release.
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case conn := <-p.idle:
		return conn, nil
	case <-timer.C:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a handle to the pool. Broken handles are discarded; the
// pool creates a replacement on a later Acquire.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}
	if conn.Broken() {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	select {
	case p.idle <- conn:
	default:
		// Should not happen: idle is sized MaxSize. Drop defensively.
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
	}
}

// reapLoop shrinks handles idle longer than IdleTimeout, keeping MinSize.
func (p *Pool) reapLoop() {
	defer close(p.reapDone)

	interval := p.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.reapStop:
			return
		case <-ticker.C:
			p.reapOnce(time.Now())
		}
	}
}

func (p *Pool) reapOnce(now time.Time) {
	var keep []*Conn
	for {
		select {
		case conn := <-p.idle:
			p.mu.Lock()
			stale := now.Sub(conn.idleSince()) > p.cfg.IdleTimeout && p.created > p.cfg.MinSize
			if stale {
				p.created--
			}
			p.mu.Unlock()
			if !stale {
				keep = append(keep, conn)
			}
		default:
			for _, conn := range keep {
				p.Release(conn)
			}
			return
		}
	}
}

// Stats reports pool occupancy: total handles created and how many are
// currently checked out.
func (p *Pool) Stats() (created, outstanding int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, p.created - len(p.idle)
}

// Close stops the reaper and drops all idle handles.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.reapStop)
	<-p.reapDone

	for {
		select {
		case <-p.idle:
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
		default:
			return
		}
	}
}

// PooledClient runs one multiplexer operation per acquired handle, releasing
// (or discarding) the handle afterwards. This is the surface the cache and
// the remediator use.
type PooledClient struct {
	pool *Pool
}

// NewPooledClient wraps a pool.
func NewPooledClient(pool *Pool) *PooledClient {
	return &PooledClient{pool: pool}
}

// ListWindows enumerates windows through a pooled handle.
func (pc *PooledClient) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	conn, err := pc.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer pc.pool.Release(conn)
	return conn.ListWindows(ctx)
}

// CapturePane captures pane content through a pooled handle.
func (pc *PooledClient) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	conn, err := pc.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer pc.pool.Release(conn)
	return conn.CapturePane(ctx, target, lines)
}

// SendKeys sends keys through a pooled handle.
func (pc *PooledClient) SendKeys(ctx context.Context, target string, keys ...string) error {
	conn, err := pc.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer pc.pool.Release(conn)
	return conn.SendKeys(ctx, target, keys...)
}

// RespawnWindow respawns a window through a pooled handle.
func (pc *PooledClient) RespawnWindow(ctx context.Context, target string) error {
	conn, err := pc.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer pc.pool.Release(conn)
	return conn.RespawnWindow(ctx, target)
}
