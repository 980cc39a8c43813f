package database

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSHooks observe connection state changes of the NATS client.
type NATSHooks struct {
	OnDisconnect func()
	OnReconnect  func()
}

// ConnectNATS dials the broker and keeps reconnecting forever. The hooks fire
// on every disconnect and reconnect.
func ConnectNATS(url, name string, hooks NATSHooks, logger zerolog.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url must not be empty")
	}

	log := logger.With().Str("component", "nats").Logger()
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
			if hooks.OnDisconnect != nil {
				hooks.OnDisconnect()
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
			if hooks.OnReconnect != nil {
				hooks.OnReconnect()
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return conn, nil
}
