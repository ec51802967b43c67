package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return "disconnected"
	}
}

var ErrNotReady = errors.New("rabbitmq connection not ready")

// Topology declares queues and exchanges on a freshly opened channel.
type Topology func(ch *amqp.Channel) error

type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Prefetch        int
	Topology        Topology
	// Dial defaults to amqp.Dial.
	Dial func(url string) (*amqp.Connection, error)
}

// Conn owns one AMQP connection and channel for the whole process. Publish
// and consume go through Channel(), which only hands out the channel while
// the connection is Ready. Run keeps it connected until ctx ends or Close is
// called.
type Conn struct {
	url  string
	opts Options
	log  *zap.Logger

	mu     sync.RWMutex
	state  State
	conn   *amqp.Connection
	ch     *amqp.Channel
	ready  chan struct{}
	cancel context.CancelFunc
	closed bool
}

func NewConn(url string, opts Options, log *zap.Logger) *Conn {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = opts.InitialInterval
	}
	if opts.Dial == nil {
		opts.Dial = amqp.Dial
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{
		url:   url,
		opts:  opts,
		log:   log.Named("mq"),
		state: StateDisconnected,
		ready: make(chan struct{}),
	}
}

func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready is closed once the connection reaches StateReady. A new channel is
// handed out after every disconnect.
func (c *Conn) Ready() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Conn) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady || c.ch == nil || c.ch.IsClosed() {
		return nil, fmt.Errorf("%w (state=%s)", ErrNotReady, c.state)
	}
	return c.ch, nil
}

func (c *Conn) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer func() { _ = c.Close() }()

	for {
		if runCtx.Err() != nil {
			return nil
		}
		conn, ch, err := c.connect(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			return err
		}
		if !c.markReady(conn, ch) {
			_ = ch.Close()
			_ = conn.Close()
			return nil
		}
		c.log.Info("rabbitmq ready", zap.String("url", redact(c.url)))

		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		what, reason, lost := waitClosed(runCtx, connClosed, chClosed)
		if !lost {
			return nil
		}
		c.log.Warn("rabbitmq "+what+" lost", zap.Any("reason", reason))
		c.markDisconnected(conn)
		// a channel exception leaves the connection open; drop it and redial
		if !conn.IsClosed() {
			_ = conn.Close()
		}
	}
}

// waitClosed blocks until the connection or its channel closes, or ctx ends.
// lost is false only when ctx ended.
func waitClosed(ctx context.Context, conn, ch <-chan *amqp.Error) (what string, reason *amqp.Error, lost bool) {
	select {
	case <-ctx.Done():
		return "", nil, false
	case reason = <-conn:
		return "connection", reason, true
	case reason = <-ch:
		return "channel", reason, true
	}
}

func (c *Conn) connect(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0

	var (
		conn *amqp.Connection
		ch   *amqp.Channel
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		c.setState(StateConnecting)
		cn, err := c.opts.Dial(c.url)
		if err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}
		chn, err := cn.Channel()
		if err != nil {
			_ = cn.Close()
			return fmt.Errorf("open channel: %w", err)
		}
		if c.opts.Prefetch > 0 {
			if err := chn.Qos(c.opts.Prefetch, 0, false); err != nil {
				_ = chn.Close()
				_ = cn.Close()
				return fmt.Errorf("set qos: %w", err)
			}
		}
		if c.opts.Topology != nil {
			if err := c.opts.Topology(chn); err != nil {
				_ = chn.Close()
				_ = cn.Close()
				return err
			}
		}
		conn, ch = cn, chn
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.log.Warn("rabbitmq connect failed", zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, nil, err
	}
	return conn, ch, nil
}

// Close drains the connection: publishers and consumers see ErrNotReady from
// now on, Run returns, and the broker handles are released.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDraining
	conn, ch, cancel := c.conn, c.ch, c.cancel
	c.conn, c.ch = nil, nil
	c.resetReady()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ch != nil && !ch.IsClosed() {
		err = errors.Join(err, ch.Close())
	}
	if conn != nil && !conn.IsClosed() {
		err = errors.Join(err, conn.Close())
	}
	c.setState(StateDisconnected)
	return err
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && s != StateDisconnected {
		return
	}
	c.state = s
}

func (c *Conn) markReady(conn *amqp.Connection, ch *amqp.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn, c.ch = conn, ch
	c.state = StateReady
	close(c.ready)
	return true
}

func (c *Conn) markDisconnected(conn *amqp.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn || c.closed {
		return
	}
	c.conn, c.ch = nil, nil
	c.state = StateDisconnected
	c.resetReady()
}

// resetReady swaps in an open ready channel; callers hold mu.
func (c *Conn) resetReady() {
	select {
	case <-c.ready:
		c.ready = make(chan struct{})
	default:
	}
}

func redact(url string) string {
	u, err := amqp.ParseURI(url)
	if err != nil {
		return "invalid"
	}
	u.Password = ""
	return u.String()
}
