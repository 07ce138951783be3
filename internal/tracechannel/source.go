// Package tracechannel delivers trace payloads from the agent backend and
// folds them into the feed and the agent registry in arrival order.
package tracechannel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/r3labs/sse/v2"
)

// Source produces raw payloads in arrival order. Run blocks until ctx is done
// or the source is exhausted, calling handle from a single goroutine.
type Source interface {
	Run(ctx context.Context, handle func([]byte)) error
}

type SSEConfig struct {
	URL     string
	Stream  string
	Headers map[string]string
	// MaxBackoff caps the wait between reconnect attempts.
	MaxBackoff time.Duration
}

// SSESource subscribes to a server-sent event stream.
type SSESource struct {
	cfg SSEConfig
}

func NewSSESource(cfg SSEConfig) *SSESource {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &SSESource{cfg: cfg}
}

func (s *SSESource) Run(ctx context.Context, handle func([]byte)) error {
	client := sse.NewClient(s.cfg.URL)
	for k, v := range s.cfg.Headers {
		client.Headers[k] = v
	}
	client.ReconnectStrategy = &reconnectPolicy{ctx: ctx, initial: 500 * time.Millisecond, max: s.cfg.MaxBackoff}
	client.OnDisconnect(func(c *sse.Client) {
		slog.Warn("trace channel disconnected", "url", s.cfg.URL)
	})

	slog.Info("trace channel subscribing", "url", s.cfg.URL, "stream", s.cfg.Stream)

	err := client.SubscribeWithContext(ctx, s.cfg.Stream, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		data := make([]byte, len(msg.Data))
		copy(data, msg.Data)
		handle(data)
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.URL, err)
	}
	return nil
}

// reconnectPolicy is an exponential backoff that stops once ctx is done. It
// satisfies the BackOff interface the sse client expects.
type reconnectPolicy struct {
	ctx     context.Context
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func (p *reconnectPolicy) NextBackOff() time.Duration {
	if p.ctx.Err() != nil {
		return -1
	}
	if p.next == 0 {
		p.next = p.initial
	}
	d := p.next
	p.next *= 2
	if p.next > p.max {
		p.next = p.max
	}
	return d
}

func (p *reconnectPolicy) Reset() { p.next = 0 }

// ReaderSource replays newline-delimited JSON payloads, for example a trace
// captured to a file.
type ReaderSource struct {
	r io.Reader
	// Delay is waited between payloads so a replay can be watched live.
	Delay time.Duration
}

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) Run(ctx context.Context, handle func([]byte)) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		handle(data)

		if s.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.Delay):
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read trace payloads: %w", err)
	}
	return nil
}
