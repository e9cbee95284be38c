package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adapterlab/dapbridge/log"
)

// ErrChannelClosed is returned for every command still in flight when the
// connection to the debugger goes away.
var ErrChannelClosed = errors.New("debugger channel closed")

// Message is the unit exchanged with the debugger: a command kind, a
// correlation sequence number and a kind-specific payload. Responses reuse
// the seq of the command they answer; unsolicited notifications carry a seq
// the adapter never issued.
type Message struct {
	Command Kind            `json:"command"`
	Seq     int             `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Notification is an unsolicited message from the debugger.
type Notification struct {
	Kind    Kind
	Seq     int
	Payload json.RawMessage
}

type pendingResult struct {
	payload json.RawMessage
	err     error
}

// Client correlates commands with their eventual responses over an
// event-driven Transport. Inbound messages whose seq matches an in-flight
// command resolve that command; everything else is surfaced on
// Notifications.
type Client struct {
	transport Transport
	logger    zerolog.Logger

	mu      sync.Mutex
	seq     int
	pending map[int]chan pendingResult
	closed  bool

	notifications chan Notification
}

// NewClient wraps transport and starts reading from it.
func NewClient(transport Transport) *Client {
	c := &Client{
		transport:     transport,
		logger:        log.New("backend"),
		seq:           1,
		pending:       make(map[int]chan pendingResult),
		notifications: make(chan Notification, 64),
	}
	go c.readLoop()
	return c
}

// Call issues a command and waits for the response with the same sequence
// number. It fails with ErrChannelClosed if the connection goes away while
// the command is in flight.
func (c *Client) Call(ctx context.Context, kind Kind, payload interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		raw = data
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	seq := c.seq
	c.seq++
	ch := make(chan pendingResult, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	msg := Message{Command: kind, Seq: seq, Payload: raw}
	data, err := json.Marshal(msg)
	if err != nil {
		c.abandon(seq)
		return nil, fmt.Errorf("failed to marshal %s command: %w", kind, err)
	}

	c.logger.Debug().Str("command", string(kind)).Int("seq", seq).Msg("sending command")
	if err := c.transport.Send(data); err != nil {
		c.abandon(seq)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.abandon(seq)
		return nil, ctx.Err()
	}
}

// Notifications yields unsolicited debugger messages. The channel is closed
// when the connection closes.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Close tears down the transport. Every pending command resolves with
// ErrChannelClosed; none are left hanging.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.failAll()
	return err
}

func (c *Client) abandon(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for data := range c.transport.Messages() {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("discarding unparseable debugger message")
			continue
		}
		c.route(msg)
	}
	// Transport closed underneath us. The notification channel closes here
	// and only here, after the last route call has returned.
	c.failAll()
	close(c.notifications)
}

func (c *Client) route(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.Seq]
	if ok {
		delete(c.pending, msg.Seq)
	}
	c.mu.Unlock()

	if ok {
		res := pendingResult{payload: msg.Payload}
		if msg.Error != "" {
			res.err = fmt.Errorf("debugger rejected %s: %s", msg.Command, msg.Error)
		}
		ch <- res
		return
	}

	// No matching pending command: an unsolicited notification. Only the
	// read loop sends here and the channel closes only after the read loop
	// exits, so a blocking hand-off is safe. Losing one (say
	// process-exited) would wedge the session, so none are dropped; the
	// buffer just absorbs bursts.
	c.notifications <- Notification{Kind: msg.Command, Seq: msg.Seq, Payload: msg.Payload}
}

func (c *Client) failAll() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int]chan pendingResult)
	c.mu.Unlock()

	for seq, ch := range pending {
		c.logger.Debug().Int("seq", seq).Msg("failing pending command: channel closed")
		ch <- pendingResult{err: ErrChannelClosed}
	}
}
