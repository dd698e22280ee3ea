package rabbitmq

import (
	"fmt"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dial connects to uri. Errors never echo the password of the URI.
func Dial(uri string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redactURI(uri), err)
	}

	return conn, nil
}

// ChannelOpenerFor opens publisher channels on conn.
func ChannelOpenerFor(conn *amqp.Connection) ChannelOpener {
	return func() (ConfirmChannel, error) {
		if conn == nil || conn.IsClosed() {
			return nil, amqp.ErrClosed
		}

		ch, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open channel: %w", err)
		}

		return ch, nil
	}
}

func redactURI(uri string) string {
	parsed, err := url.Parse(strings.TrimSpace(uri))
	if err != nil || parsed.Host == "" {
		return "<invalid uri>"
	}

	return parsed.Redacted()
}
