package transport

import (
	"context"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type NATSConfig struct {
	URL             string
	CredentialsFile string
	ReconnectWait   time.Duration
	MaxReconnects   int
}

// NATS publishes frames on blurchat.room.<room>.<member> and listens on
// the wildcard of its own identity.
type NATS struct {
	*router
	conn *nats.Conn
	sub  *nats.Subscription
}

func natsSubject(room, member string) string {
	return "blurchat.room." + room + "." + member
}

func NewNATS(cfg NATSConfig, privateKey string) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("blurchat"),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err == nil {
			opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
		}
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to connect to NATS")
	}

	t := &NATS{conn: conn}
	t.router, err = newRouter(privateKey, func(ctx context.Context, room, member string, data []byte) error {
		return conn.Publish(natsSubject(room, member), data)
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	t.sub, err = conn.Subscribe(natsSubject("*", t.identity), func(msg *nats.Msg) {
		t.receive(msg.Data)
	})
	if err != nil {
		conn.Close()
		return nil, pkgerrors.Wrap(err, "failed to subscribe")
	}
	log.Debug().Str("identity", t.identity).Msg("subscribed to NATS")
	return t, nil
}

func (t *NATS) Close() {
	if t.sub != nil {
		t.sub.Unsubscribe()
	}
	t.conn.Close()
}
