// Package mqtt adapts the paho MQTT client to the event transport. Only the
// leader connects. Publish enqueues on a bounded outbound queue drained by a
// single sender goroutine, so a stalled broker never blocks the caller.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// State is the connection state of the transport.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config locates the broker.
type Config struct {
	BrokerAddress  string
	BrokerPort     int
	Username       string
	Password       string
	ClientID       string
	ConnectTimeout time.Duration
	// WriteTimeout bounds how long the sender waits on paho for one message.
	WriteTimeout time.Duration
	// QueueSize is the outbound queue capacity; Publish fails when it is full.
	QueueSize int
	QoS       byte
}

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

type outbound struct {
	topic   string
	payload []byte
}

func (c Config) broker() string {
	host := c.BrokerAddress
	if host == "" {
		host = "localhost"
	}
	port := c.BrokerPort
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// Client is the leader's broker connection.
type Client struct {
	cfg       Config
	gate      role.Gate
	logger    *zap.Logger
	newClient func(*paho.ClientOptions) paho.Client
	observers []func(State)

	mu     sync.Mutex
	client paho.Client
	subs   map[string]paho.MessageHandler
	state  atomic.Int32

	queue     chan outbound
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(c *Client) { c.observers = append(c.observers, fn) }
}

// WithClientFactory replaces paho.NewClient.
func WithClientFactory(fn func(*paho.ClientOptions) paho.Client) Option {
	return func(c *Client) { c.newClient = fn }
}

// New returns a disconnected client.
func New(cfg Config, gate role.Gate, opts ...Option) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	c := &Client{
		cfg:       cfg,
		gate:      gate,
		logger:    zap.NewNop(),
		newClient: paho.NewClient,
		queue:     make(chan outbound, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.logger.Debug("transport state", zap.Stringer("state", s))
	for _, fn := range c.observers {
		fn(s)
	}
}

// Connect dials the broker and waits for the first connection. paho retries
// after later connection losses on its own.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.gate.Require("transport connect"); err != nil {
		return err
	}
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.broker()).
		SetClientID(c.clientID()).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetWriteTimeout(c.cfg.WriteTimeout).
		SetOnConnectHandler(func(cl paho.Client) {
			c.setState(Connected)
			c.resubscribe(cl)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("transport connection lost", zap.Error(err))
			c.setState(Disconnected)
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) { c.setState(Connecting) })

	c.mu.Lock()
	client := c.newClient(opts)
	c.client = client
	c.mu.Unlock()
	c.startOnce.Do(func() { go c.send() })

	c.setState(Connecting)
	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.setState(Disconnected)
		return fmt.Errorf("%w: %v", domain.ErrTransport, ctx.Err())
	case <-time.After(c.cfg.ConnectTimeout):
		c.setState(Disconnected)
		return fmt.Errorf("%w: connect to %s timed out", domain.ErrTransport, c.cfg.broker())
	}
	if err := tok.Error(); err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	c.setState(Connected)
	c.logger.Info("transport connected", zap.String("broker", c.cfg.broker()))
	return nil
}

func (c *Client) clientID() string {
	if c.cfg.ClientID != "" {
		return c.cfg.ClientID
	}
	return "reactorboard-" + c.gate.Unit()
}

func (c *Client) current() paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Publish enqueues payload on topic and returns immediately. It fails with
// ErrTransport when the client is not connected or the queue is full.
// Delivery errors are logged by the sender.
func (c *Client) Publish(topic string, payload []byte) error {
	if err := c.gate.Require("transport publish"); err != nil {
		return err
	}
	if c.current() == nil || c.State() != Connected {
		return fmt.Errorf("%w: %s", domain.ErrTransport, c.State())
	}
	select {
	case c.queue <- outbound{topic: topic, payload: payload}:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", domain.ErrTransport)
	}
}

// send drains the outbound queue until Close.
func (c *Client) send() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.queue:
			c.deliver(msg)
		}
	}
}

func (c *Client) deliver(msg outbound) {
	client := c.current()
	if client == nil || c.State() != Connected {
		c.logger.Warn("publish dropped", zap.String("topic", msg.topic), zap.Stringer("state", c.State()))
		return
	}
	tok := client.Publish(msg.topic, c.cfg.QoS, false, msg.payload)
	if !tok.WaitTimeout(c.cfg.WriteTimeout) {
		c.logger.Warn("publish timed out", zap.String("topic", msg.topic))
		return
	}
	if err := tok.Error(); err != nil {
		c.logger.Warn("publish failed", zap.String("topic", msg.topic), zap.Error(err))
	}
}

// Subscribe registers handler for filter.
func (c *Client) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	if err := c.gate.Require("transport subscribe"); err != nil {
		return err
	}
	client := c.current()
	if client == nil {
		return fmt.Errorf("%w: not connected", domain.ErrTransport)
	}
	cb := func(_ paho.Client, msg paho.Message) { handler(msg.Topic(), msg.Payload()) }
	tok := client.Subscribe(filter, c.cfg.QoS, cb)
	if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("%w: subscribe %s timed out", domain.ErrTransport, filter)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", domain.ErrTransport, filter, err)
	}
	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]paho.MessageHandler)
	}
	c.subs[filter] = cb
	c.mu.Unlock()
	return nil
}

// resubscribe restores subscriptions after an automatic reconnect; the broker
// drops them with the clean session.
func (c *Client) resubscribe(cl paho.Client) {
	c.mu.Lock()
	subs := make(map[string]paho.MessageHandler, len(c.subs))
	for f, cb := range c.subs {
		subs[f] = cb
	}
	c.mu.Unlock()
	for filter, cb := range subs {
		tok := cl.Subscribe(filter, c.cfg.QoS, cb)
		go func(filter string) {
			<-tok.Done()
			if err := tok.Error(); err != nil {
				c.logger.Warn("resubscribe failed", zap.String("filter", filter), zap.Error(err))
			}
		}(filter)
	}
}

// Close stops the sender and disconnects, allowing in-flight work a short
// grace period. Queued messages not yet handed to paho are discarded.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	client := c.current()
	if client == nil {
		return
	}
	client.Disconnect(250)
	c.setState(Disconnected)
	select {
	case <-c.done:
	case <-time.After(2 * c.cfg.WriteTimeout):
		c.logger.Warn("transport sender did not stop")
	}
}
