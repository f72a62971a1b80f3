package metastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/timeout"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/webitel/im-routing-service/config"
	"github.com/webitel/im-routing-service/internal/domain/model"
)

const listUserChannelsMethod = "/webitel.metastore.v1.Metastore/ListUserChannels"

type listUserChannelsRequest struct {
	UserID string `json:"user_id"`
}

type listUserChannelsResponse struct {
	ChannelIDs []string `json:"channel_ids"`
}

// Client is the resilient gRPC client for the metadata store. Every call
// runs under a hard deadline (the interceptor) and behind a breaker, so a
// degraded metastore can never stall the presence watcher indefinitely.
type Client struct {
	conn    *grpc.ClientConn
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

var _ Resolver = (*Client)(nil)

func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	conn, err := grpc.NewClient(cfg.Metastore.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(timeout.UnaryClientInterceptor(cfg.Metastore.Timeout)),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("metastore: dial %s: %w", cfg.Metastore.Address, err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "metastore",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("METASTORE_BREAKER_STATE", "from", from.String(), "to", to.String())
		},
	})

	return &Client{conn: conn, breaker: breaker, logger: logger}, nil
}

func (c *Client) ListUserChannels(ctx context.Context, userID uuid.UUID) ([]model.ChannelID, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		req := &listUserChannelsRequest{UserID: userID.String()}
		resp := new(listUserChannelsResponse)
		if err := c.conn.Invoke(ctx, listUserChannelsMethod, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list channels for %s: %v", ErrUnavailable, userID, err)
	}

	resp := res.(*listUserChannelsResponse)
	channels := make([]model.ChannelID, 0, len(resp.ChannelIDs))
	for _, id := range resp.ChannelIDs {
		channels = append(channels, model.ChannelID(id))
	}
	return channels, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
