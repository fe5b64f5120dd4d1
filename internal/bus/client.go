// Package bus fans practice events out over NATS for listeners such as
// dashboards or a tutor console. Delivery is fire and forget.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/observe"
)

// TraceHeader carries the request trace ID on every published event.
const TraceHeader = "Ellie-Trace-Id"

type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("bus: no servers configured")
	}
	servers := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(servers, connectOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", servers, err)
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info("bus connected", slog.String("server", conn.ConnectedUrlRedacted()))
	return &Client{conn: conn, log: log}, nil
}

func connectOptions(cfg config.BusConfig, log *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name("ellie"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("bus disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("bus reconnected", slog.String("server", c.ConnectedUrlRedacted()))
		}),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(time.Duration(cfg.ConnectTimeout)*time.Millisecond))
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts
}

// Publish sends v as JSON on subject, tagged with the trace ID from ctx.
func (c *Client) Publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	if id := observe.TraceID(ctx); id != "" {
		msg.Header.Set(TraceHeader, id)
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Healthy reports whether the connection is currently usable. Readiness
// checks use it.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Conn() *nats.Conn { return c.conn }

// Close flushes pending events and disconnects.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.log.Warn("bus drain failed", slog.String("error", err.Error()))
		c.conn.Close()
	}
}
