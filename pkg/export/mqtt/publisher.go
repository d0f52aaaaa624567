// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/absmach/coapscope/pkg/breaker"
	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/inspect"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

const (
	// DefaultTopic is the topic prefix records are published under.
	DefaultTopic = "coapscope/records"

	// DefaultTimeout bounds dialing and the CONNACK wait.
	DefaultTimeout = 5 * time.Second
)

// ErrRefused is returned when the broker rejects the CONNECT.
var ErrRefused = errors.New("connection refused by broker")

// Config holds the exporter configuration.
type Config struct {
	// Address is the broker address (host:port)
	Address string

	// Topic is the prefix; records go to <Topic>/<message type>.
	Topic string

	ClientID string
	Username string
	Password string

	// KeepAlive is sent in CONNECT. 0 disables broker keep-alive checks,
	// which suits a publisher that never reads from the connection.
	KeepAlive time.Duration

	// Timeout bounds dialing and the CONNACK wait. 0 uses DefaultTimeout.
	Timeout time.Duration

	// Breaker, when set, short-circuits publishes while the broker is failing.
	Breaker *breaker.CircuitBreaker

	// Logger for exporter events
	Logger *slog.Logger
}

// Publisher exports record views to an MQTT broker at QoS 0. It connects on
// first use and again on the publish after a write failure.
type Publisher struct {
	config Config

	mu   sync.Mutex
	conn net.Conn
}

var _ handler.Observer = (*Publisher)(nil)

// New creates a publisher. No connection is made until the first publish.
func New(cfg Config) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "coapscope"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{config: cfg}
}

func (p *Publisher) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: p.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.config.Address)
	if err != nil {
		return fmt.Errorf("failed to dial broker %s: %w", p.config.Address, err)
	}

	pkt := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	pkt.ProtocolName = "MQTT"
	pkt.ProtocolVersion = 4
	pkt.CleanSession = true
	pkt.ClientIdentifier = p.config.ClientID
	pkt.Keepalive = uint16(p.config.KeepAlive / time.Second)
	if p.config.Username != "" {
		pkt.UsernameFlag = true
		pkt.Username = p.config.Username
	}
	if p.config.Password != "" {
		pkt.PasswordFlag = true
		pkt.Password = []byte(p.config.Password)
	}

	conn.SetDeadline(time.Now().Add(p.config.Timeout))
	if err := pkt.Write(conn); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send CONNECT: %w", err)
	}

	rsp, err := packets.ReadPacket(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read CONNACK: %w", err)
	}
	ack, ok := rsp.(*packets.ConnackPacket)
	if !ok {
		conn.Close()
		return fmt.Errorf("expected CONNACK, got %s", rsp.String())
	}
	if ack.ReturnCode != packets.Accepted {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrRefused, packets.ConnackReturnCodes[ack.ReturnCode])
	}
	conn.SetDeadline(time.Time{})

	p.conn = conn
	p.config.Logger.Info("connected to MQTT broker",
		slog.String("address", p.config.Address),
		slog.String("client_id", p.config.ClientID))
	return nil
}

// Publish sends payload to topic at QoS 0.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.config.Breaker == nil {
		return p.publish(ctx, topic, payload)
	}
	return p.config.Breaker.Call(func() error {
		return p.publish(ctx, topic, payload)
	})
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}

	pkt := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pkt.TopicName = topic
	pkt.Qos = 0
	pkt.Payload = payload

	p.conn.SetWriteDeadline(time.Now().Add(p.config.Timeout))
	if err := pkt.Write(p.conn); err != nil {
		p.conn.Close()
		p.conn = nil
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Topic returns the topic a record is published to.
func (p *Publisher) Topic(rec *inspect.Record) string {
	kind := "malformed"
	if rec.Message != nil {
		kind = strings.ToLower(rec.Message.Type.Short())
	}
	return p.config.Topic + "/" + kind
}

// OnSession implements handler.Observer.
func (p *Publisher) OnSession(ctx context.Context, hctx *handler.Context) error {
	return nil
}

// OnRecord publishes the record view as JSON.
func (p *Publisher) OnRecord(ctx context.Context, hctx *handler.Context, rec *inspect.Record) error {
	payload, err := json.Marshal(rec.View())
	if err != nil {
		return err
	}
	return p.Publish(ctx, p.Topic(rec), payload)
}

// OnDisconnect implements handler.Observer.
func (p *Publisher) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	return nil
}

// Close sends DISCONNECT and closes the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	pkt := packets.NewControlPacket(packets.Disconnect)
	p.conn.SetWriteDeadline(time.Now().Add(p.config.Timeout))
	werr := pkt.Write(p.conn)
	cerr := p.conn.Close()
	p.conn = nil
	return errors.Join(werr, cerr)
}
