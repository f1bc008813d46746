package main

import (
	"context"
	"encoding/json"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/telemetry"
)

type publisher interface {
	Publish(ctx context.Context, data []byte) error
}

type presenceRegistry interface {
	Join(ctx context.Context, username string) (bool, error)
	Leave(ctx context.Context, username string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}

type idGenerator interface {
	Generate() int64
}

type inbound struct {
	client  *Client
	content string
}

// Hub keeps the clients connected to this gateway. Everything a client sends
// goes to the bus first; frames coming back from the bus are fanned out to
// every local client, so all gateway instances see the same stream. Bus
// writes run on a separate goroutine in publish order.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	fanout     chan []byte
	outbox     chan []byte
	done       chan struct{}

	bus      publisher
	presence presenceRegistry
	ids      idGenerator
	policy   *bluemonday.Policy
	now      func() time.Time
}

func NewHub(bus publisher, presence presenceRegistry, ids idGenerator) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		fanout:     make(chan []byte, 256),
		outbox:     make(chan []byte, 256),
		done:       make(chan struct{}),
		bus:        bus,
		presence:   presence,
		ids:        ids,
		policy:     bluemonday.StrictPolicy(),
		now:        time.Now,
	}
}

// Deliver hands a frame read from the bus to the hub.
func (h *Hub) Deliver(data []byte) {
	select {
	case h.fanout <- data:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.forward(ctx)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			telemetry.Set(telemetry.ConnectedClients, 0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			telemetry.Set(telemetry.ConnectedClients, float64(len(h.clients)))
			log.Info().Str("user", c.username).Msg("client registered")
			first, err := h.presence.Join(ctx, c.username)
			if err != nil {
				log.Error().Err(err).Str("user", c.username).Msg("failed to set presence")
				continue
			}
			if first {
				h.publish(ctx, model.FrameJoin, model.Member{Username: c.username})
			}
			h.publishUsers(ctx)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(ctx, c)
			}

		case in := <-h.inbound:
			h.handleInbound(ctx, in)

		case data := <-h.fanout:
			h.broadcast(ctx, data)
		}
	}
}

func (h *Hub) drop(ctx context.Context, c *Client) {
	delete(h.clients, c)
	close(c.send)
	telemetry.Set(telemetry.ConnectedClients, float64(len(h.clients)))
	log.Info().Str("user", c.username).Msg("client unregistered")

	last, err := h.presence.Leave(ctx, c.username)
	if err != nil {
		log.Error().Err(err).Str("user", c.username).Msg("failed to delete presence")
		return
	}
	if last {
		h.publish(ctx, model.FrameLeave, model.Member{Username: c.username})
	}
	h.publishUsers(ctx)
}

func (h *Hub) broadcast(ctx context.Context, data []byte) {
	var f model.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Msg("dropping malformed frame from bus")
		return
	}
	telemetry.IncVec(telemetry.FramesBroadcast, string(f.Type))

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("user", c.username).Msg("client too slow, disconnecting")
			h.drop(ctx, c)
		}
	}
}

// sanitize strips all markup from client text.
func (h *Hub) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(s)))
}

func (h *Hub) handleInbound(ctx context.Context, in inbound) {
	content := h.sanitize(in.content)
	if content == "" {
		return
	}
	telemetry.Inc(telemetry.MessagesReceived)
	h.publish(ctx, model.FrameChat, model.Message{
		ID:        h.ids.Generate(),
		Username:  in.client.username,
		Content:   content,
		CreatedAt: h.now().Unix(),
	})
}

func (h *Hub) publishUsers(ctx context.Context) {
	users, err := h.presence.Online(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list presence")
		return
	}
	h.publish(ctx, model.FrameUsers, users)
}

func (h *Hub) publish(ctx context.Context, t model.FrameType, payload any) {
	f, err := model.NewFrame(t, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to build frame")
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return
	}
	select {
	case h.outbox <- data:
	case <-ctx.Done():
	}
}

// forward writes queued frames to the bus until ctx is done.
func (h *Hub) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-h.outbox:
			if err := h.bus.Publish(ctx, data); err != nil {
				log.Error().Err(err).Int("bytes", len(data)).Msg("failed to write frame to Kafka")
			}
		}
	}
}
