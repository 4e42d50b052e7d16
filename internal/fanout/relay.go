package fanout

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectPrefix = "chat.room."

// Envelope is a room event as it travels between nodes.
type Envelope struct {
	Node          string       `json:"node"`
	ChatID        int64        `json:"chat_id"`
	ExcludeUserID int64        `json:"exclude_user_id,omitempty"`
	Event         models.Event `json:"event"`
}

type Config struct {
	URL           string
	NodeID        string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATSRelay mirrors locally published room events to every other node and
// hands events from peers back to the local hub.
type NATSRelay struct {
	nc     *nats.Conn
	nodeID string
	sub    *nats.Subscription
	logger zerolog.Logger
}

func NewNATSRelay(cfg Config, logger zerolog.Logger) (*NATSRelay, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.NodeID == "" {
		return nil, errors.New("node id missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	opts := []nats.Option{
		nats.Name("chat-node-" + cfg.NodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &NATSRelay{nc: nc, nodeID: cfg.NodeID, logger: logger}, nil
}

func roomSubject(chatID int64) string {
	return subjectPrefix + strconv.FormatInt(chatID, 10)
}

func (r *NATSRelay) Publish(env Envelope) error {
	env.Node = r.nodeID
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.nc.Publish(roomSubject(env.ChatID), data)
}

// Subscribe delivers every room event published by other nodes.
func (r *NATSRelay) Subscribe(deliver func(Envelope)) error {
	sub, err := r.nc.Subscribe(subjectPrefix+"*", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			r.logger.Error().Err(err).Str("subject", msg.Subject).Msg("decode relayed room event")
			return
		}
		if env.Node == r.nodeID {
			return
		}
		if env.ChatID == 0 {
			env.ChatID = chatIDFromSubject(msg.Subject)
		}
		deliver(env)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *NATSRelay) Close() error {
	if r.sub != nil {
		_ = r.sub.Drain()
	}
	return r.nc.Drain()
}

func chatIDFromSubject(subject string) int64 {
	id, err := strconv.ParseInt(strings.TrimPrefix(subject, subjectPrefix), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
