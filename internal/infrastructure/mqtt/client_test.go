package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sessiond/internal/infrastructure/config"
)

// testConfig returns a configuration for a local broker at 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker or skips the test.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Revocation", topics.Revocation("acc-42"), "sessiond/revocation/acc-42"},
		{"AllRevocations", topics.AllRevocations(), "sessiond/revocation/+"},
		{"SystemStatus", topics.SystemStatus(), "sessiond/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseRevocationTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"sessiond/revocation/acc-42", "acc-42", true},
		{"sessiond/revocation/", "", false},
		{"sessiond/revocation/acc-42/extra", "", false},
		{"sessiond/system/status", "", false},
		{"other/revocation/acc-42", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := ParseRevocationTopic(tt.topic)
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("ParseRevocationTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("node-a")
	cfg.Auth.Username = "sessiond"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "node-a" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "node-a")
	}
	if opts.Username != "sessiond" {
		t.Errorf("Username = %q, want %q", opts.Username, "sessiond")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig("node-a")
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want configured")
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var got statusPayload
	if err := json.Unmarshal(buildStatusPayload("node-a", "offline", "graceful_shutdown"), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "offline" || got.ClientID != "node-a" || got.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", got)
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("Timestamp %q not RFC3339: %v", got.Timestamp, err)
	}
}

// =============================================================================
// Validation Tests (no broker required)
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"invalid qos", "sessiond/revocation/a", 3, nil, ErrInvalidQoS},
		{"oversized payload", "sessiond/revocation/a", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"disconnected", "sessiond/revocation/a", 1, []byte("{}"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishRevocation_EmptyAccount(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	if err := c.PublishRevocation("", []byte("{}")); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("PublishRevocation(\"\") error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestDispatch_RecoversPanicAndLogsErrors(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return fmt.Errorf("bad payload") }, "t", nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %d, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1", len(logger.warns))
	}
}

// =============================================================================
// Broker Tests (skipped without a local broker)
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig("sessiond-test-refused")
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestRevocationRoundtrip(t *testing.T) {
	sub := connectOrSkip(t, "sessiond-test-sub")
	pub := connectOrSkip(t, "sessiond-test-pub")

	received := make(chan string, 1)
	err := sub.Subscribe(Topics{}.AllRevocations(), 1, func(topic string, _ []byte) error {
		accountID, ok := ParseRevocationTopic(topic)
		if ok {
			received <- accountID
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(Topics{}.AllRevocations()) {
		t.Error("HasSubscription() = false, want true")
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishRevocation("acc-roundtrip", []byte(`{"policy":"hard"}`)); err != nil {
		t.Fatalf("PublishRevocation() error = %v", err)
	}

	select {
	case id := <-received:
		if id != "acc-roundtrip" {
			t.Errorf("received account = %q, want %q", id, "acc-roundtrip")
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for revocation notice")
	}
}

func TestHealthCheck_Connected(t *testing.T) {
	client := connectOrSkip(t, "sessiond-test-health")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
