package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"templogger/internal/config"
	"templogger/internal/types"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("mqtt client not connected")

// pahoClient is the subset of mqtt.Client the publisher uses.
type pahoClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher uplinks readings to a broker. The pipeline keeps running while
// it is disconnected; publishes simply fail until the link is back.
type Publisher struct {
	client    pahoClient
	nodeID    string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func TelemetryTopic(nodeID string) string {
	return fmt.Sprintf("nodes/%s/telemetry", nodeID)
}

func StatusTopic(nodeID string) string {
	return fmt.Sprintf("nodes/%s/status", nodeID)
}

func NewPublisher(cfg config.Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{
		nodeID:  cfg.NodeID,
		timeout: 5 * time.Second,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	will, err := json.Marshal(types.NodeStatus{NodeID: cfg.NodeID, Online: false})
	if err != nil {
		return nil, fmt.Errorf("marshal will: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetBinaryWill(StatusTopic(cfg.NodeID), will, 1, true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		// paho runs this on its own goroutine; publishing here does not block the pipeline
		if err := p.publishStatus(true); err != nil {
			logger.Warn("mqtt status publish failed", "err", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "err", err)
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Connect waits for the first connection. It respects ctx and Disconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}

	if p.IsConnected() {
		return nil
	}

	// With ConnectRetry the token may stay pending while paho keeps retrying.
	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("publisher stopped")
		default:
		}
	}
}

// PublishReading sends r to nodes/<node>/telemetry with QoS 1.
func (p *Publisher) PublishReading(ctx context.Context, r types.Reading) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(types.Telemetry{
		NodeID:       p.nodeID,
		ReadingID:    r.ID,
		Date:         r.Date,
		Time:         r.Time,
		TemperatureC: r.Value,
		SentAt:       p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	topic := TelemetryTopic(p.nodeID)
	if err := p.publish(ctx, topic, false, data); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	p.logger.Debug("published telemetry", "topic", topic, "reading_id", r.ID)
	return nil
}

func (p *Publisher) publishStatus(online bool) error {
	data, err := json.Marshal(types.NodeStatus{NodeID: p.nodeID, Online: online, Since: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return p.publish(context.Background(), StatusTopic(p.nodeID), true, data)
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token := p.client.Publish(topic, 1, retained, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("topic %s: %w", topic, ctx.Err())
	}
	return token.Error()
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect announces the node offline and closes the connection.
// Idempotent. After Disconnect, Connect returns an error.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() {
		close(p.stopCh)

		if p.IsConnected() {
			if err := p.publishStatus(false); err != nil {
				p.logger.Warn("mqtt status publish failed", "err", err)
			}
		}
		p.client.Disconnect(250)
		p.setConnected(false)
		p.logger.Info("mqtt disconnected")
	})
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
