package backend

import (
	"bufio"
	"fmt"
	"net"
	"sync"
)

// Transport moves opaque message bytes to and from the debugger process.
// Framing of the debugger wire protocol lives entirely behind this seam;
// the client only sees whole messages.
type Transport interface {
	// Send writes one message.
	Send(data []byte) error
	// Messages yields inbound messages. The channel is closed when the
	// underlying connection closes.
	Messages() <-chan []byte
	// Close tears the connection down.
	Close() error
}

// jsonLineTransport frames one JSON message per newline-terminated line,
// the framing the debugger's headless server speaks.
type jsonLineTransport struct {
	conn net.Conn
	mu   sync.Mutex
	msgs chan []byte
}

// NewJSONLineTransport wraps conn in a line-delimited transport and starts
// its read loop.
func NewJSONLineTransport(conn net.Conn) Transport {
	t := &jsonLineTransport{
		conn: conn,
		msgs: make(chan []byte, 64),
	}
	go t.readLoop()
	return t
}

func (t *jsonLineTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send to debugger: %w", err)
	}
	return nil
}

func (t *jsonLineTransport) Messages() <-chan []byte {
	return t.msgs
}

func (t *jsonLineTransport) Close() error {
	return t.conn.Close()
}

func (t *jsonLineTransport) readLoop() {
	defer close(t.msgs)
	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		msg := make([]byte, len(line))
		copy(msg, line)
		t.msgs <- msg
	}
}
