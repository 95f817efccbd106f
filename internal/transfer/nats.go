package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/mend/pkg/messages"
)

const subjectPrefix = "mend.transfer."

// NatsChannel delivers transfer packages over NATS. Each instance listens
// on its own subject; delivery is a request/reply so the sender knows the
// peer accepted the package.
type NatsChannel struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// NatsConfig holds NATS connection settings
type NatsConfig struct {
	URL     string        // NATS server URL (e.g., "nats://localhost:4222")
	Timeout time.Duration // connection timeout
}

// NewNatsChannel connects to NATS.
func NewNatsChannel(cfg NatsConfig) (*NatsChannel, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Transfer] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Transfer] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Printf("[Transfer] Connected to NATS at %s", cfg.URL)
	return &NatsChannel{conn: conn}, nil
}

// Deliver sends the package to the target's subject and waits for an
// acknowledgment within the context deadline.
func (c *NatsChannel) Deliver(ctx context.Context, pkg *messages.TransferPackage) error {
	data, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("failed to marshal package %s: %w", pkg.ID, err)
	}

	msg, err := c.conn.RequestWithContext(ctx, subjectPrefix+pkg.TargetSystem, data)
	if err != nil {
		return fmt.Errorf("delivery to %s failed: %w", pkg.TargetSystem, err)
	}
	if string(msg.Data) != "ok" {
		return fmt.Errorf("peer %s rejected package: %s", pkg.TargetSystem, msg.Data)
	}
	return nil
}

// Listen subscribes to this instance's subject and hands incoming packages
// to the receiver. Rejections (version gate, malformed payloads) are
// replied to the sender.
func (c *NatsChannel) Listen(systemID string, receive func(*messages.TransferPackage) error) error {
	sub, err := c.conn.Subscribe(subjectPrefix+systemID, func(msg *nats.Msg) {
		var pkg messages.TransferPackage
		if err := json.Unmarshal(msg.Data, &pkg); err != nil {
			log.Printf("[Transfer] Dropping malformed package: %v", err)
			msg.Respond([]byte("malformed package"))
			return
		}
		if err := receive(&pkg); err != nil {
			log.Printf("[Transfer] Rejected package %s: %v", pkg.ID, err)
			msg.Respond([]byte(err.Error()))
			return
		}
		msg.Respond([]byte("ok"))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe for %s: %w", systemID, err)
	}
	c.sub = sub
	return nil
}

// Close drains the subscription and closes the connection.
func (c *NatsChannel) Close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

var _ Channel = (*NatsChannel)(nil)
