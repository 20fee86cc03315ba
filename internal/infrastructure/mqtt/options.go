package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lhkeeper/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// Identity names this process in status payloads.
type Identity struct {
	LighthouseID string
	RunID        string
}

// statusPayload is published on the system status topic.
type statusPayload struct {
	Status       string `json:"status"`
	ClientID     string `json:"client_id"`
	LighthouseID string `json:"lighthouse_id,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// buildClientOptions creates paho MQTT options from the lhkeeper config.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// The keep-alive loop must never wait on the broker, so reconnection is
	// left to paho in the background.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

// configureLWT makes the broker announce an unexpected disconnect.
//
// Topic: lhkeeper/system/status, QoS 1, retained.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, id Identity) {
	opts.SetWill(Topics{}.SystemStatus(), string(buildStatusPayload("offline", "unexpected_disconnect", clientID, id)), 1, true)
}

func buildStatusPayload(status, reason, clientID string, id Identity) []byte {
	b, _ := json.Marshal(statusPayload{ //nolint:errcheck // Plain struct always marshals
		Status:       status,
		ClientID:     clientID,
		LighthouseID: id.LighthouseID,
		RunID:        id.RunID,
		Reason:       reason,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
