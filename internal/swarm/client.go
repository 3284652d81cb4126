// Package swarm reads service state and lifecycle events from the Docker
// Engine API of a Swarm manager.
package swarm

import (
	"context"
	"fmt"
	"maps"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/events"
	swarmtypes "github.com/moby/moby/api/types/swarm"
	"github.com/moby/moby/client"

	"github.com/MrSnakeDoc/swarmdns/internal/domain"
	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

// apiClient is the subset of the Docker client in use.
type apiClient interface {
	ServiceList(ctx context.Context, options client.ServiceListOptions) (client.ServiceListResult, error)
	ServiceInspect(ctx context.Context, serviceID string, options client.ServiceInspectOptions) (client.ServiceInspectResult, error)
	Events(ctx context.Context, options client.EventsListOptions) client.EventsResult
	Close() error
}

// Client adapts the Docker client to domain types.
type Client struct {
	api apiClient
	log logger.Logger
}

// NewClient connects using DOCKER_HOST and friends, or host when set.
func NewClient(host string, log logger.Logger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: api, log: log}, nil
}

func (c *Client) Close() error {
	return c.api.Close()
}

// ListServices returns every service of the cluster.
func (c *Client) ListServices(ctx context.Context) ([]domain.Service, error) {
	res, err := c.api.ServiceList(ctx, client.ServiceListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	out := make([]domain.Service, 0, len(res.Items))
	for _, s := range res.Items {
		out = append(out, toService(s))
	}
	return out, nil
}

// GetService returns one service. A service that no longer exists yields
// domain.ErrServiceNotFound.
func (c *Client) GetService(ctx context.Context, id string) (domain.Service, error) {
	res, err := c.api.ServiceInspect(ctx, id, client.ServiceInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return domain.Service{}, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, domain.ShortID(id))
		}
		return domain.Service{}, fmt.Errorf("failed to inspect service %s: %w", domain.ShortID(id), err)
	}
	return toService(res.Service), nil
}

// Events streams service lifecycle events until ctx is cancelled. The error
// channel receives at most one error, after which both channels stop.
func (c *Client) Events(ctx context.Context) (<-chan domain.Event, <-chan error) {
	res := c.api.Events(ctx, client.EventsListOptions{
		Filters: make(client.Filters).Add("type", string(events.ServiceEventType)),
	})

	out := make(chan domain.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-res.Err:
				if err != nil && ctx.Err() == nil {
					errs <- fmt.Errorf("docker event stream: %w", err)
				}
				return
			case msg, ok := <-res.Messages:
				if !ok {
					if ctx.Err() == nil {
						errs <- fmt.Errorf("docker event stream closed")
					}
					return
				}
				ev, ok := toEvent(msg)
				if !ok {
					c.log.Debug("ignoring non-service event",
						logger.String("type", string(msg.Type)),
						logger.String("action", string(msg.Action)))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	c.log.Info("subscribed to swarm service events")
	return out, errs
}

func toService(s swarmtypes.Service) domain.Service {
	return domain.Service{
		ID:     s.ID,
		Name:   s.Spec.Name,
		Labels: maps.Clone(s.Spec.Labels),
	}
}

// toEvent keeps service events only. The action is passed through; the
// reconciler decides which actions matter.
func toEvent(m events.Message) (domain.Event, bool) {
	if m.Type != "" && m.Type != events.ServiceEventType {
		return domain.Event{}, false
	}
	return domain.Event{
		Action:    domain.EventAction(m.Action),
		ServiceID: m.Actor.ID,
	}, true
}
