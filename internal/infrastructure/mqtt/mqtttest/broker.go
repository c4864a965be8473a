// Package mqtttest runs an in-process MQTT broker for tests.
package mqtttest

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/blesim-core/internal/infrastructure/config"
)

// Broker is a running in-process broker bound to a loopback port.
type Broker struct {
	Host string
	Port int

	server    *mochi.Server
	closeOnce sync.Once
}

// Start launches a broker on a free loopback port and registers its
// shutdown with t.Cleanup.
func Start(t testing.TB) *Broker {
	t.Helper()

	addr := freeAddr(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding allow hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "test", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("adding listener: %v", err)
	}

	go func() {
		_ = server.Serve()
	}()
	waitListening(t, addr)

	b := &Broker{Host: host, Port: port, server: server}
	t.Cleanup(b.Close)
	return b
}

// Close stops the broker. Connected clients see a lost connection.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		_ = b.server.Close()
	})
}

// Config returns an MQTT config pointing at the broker.
func (b *Broker) Config(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     b.Host,
			Port:     b.Port,
			ClientID: clientID,
		},
		QoS:       1,
		Namespace: "ble-sim",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     2,
		},
	}
}

// UnusedConfig returns a config for a loopback port nothing listens on.
func UnusedConfig(t testing.TB) config.MQTTConfig {
	t.Helper()

	addr := freeAddr(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	return config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: host, Port: port, ClientID: "blesim-unused"},
		QoS:       1,
		Namespace: "ble-sim",
	}
}

func freeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitListening(t testing.TB, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("broker did not start listening on %s", addr)
}
