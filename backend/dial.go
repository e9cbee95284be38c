package backend

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
)

// Dial connects to the debugger at addr and returns a correlated client.
// The debugger process is usually still coming up when launch is handled,
// so the dial is retried for a few seconds before giving up.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var conn net.Conn
	err := retry.Do(
		func() error {
			d := net.Dialer{Timeout: 2 * time.Second}
			c, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to debugger at %s: %w", addr, err)
	}
	return NewClient(NewJSONLineTransport(conn)), nil
}
