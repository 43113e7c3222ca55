package channels

import (
	"context"
	"encoding/json"

	"github.com/odyssey-feed/odyssey-feed/internal/rpc"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Registrar accepts rpc methods.
type Registrar interface {
	Register(name string, h rpc.Handler) error
}

// RegisterEndpoints exposes the channel operations as rpc methods.
func RegisterEndpoints(reg Registrar, svc *Service) error {
	endpoints := map[string]rpc.Handler{
		"getChannels": func(ctx context.Context, token *shared.ActorToken, _ []json.RawMessage) (any, error) {
			return svc.Channels(ctx, token)
		},
		"getActivities": func(ctx context.Context, token *shared.ActorToken, args []json.RawMessage) (any, error) {
			channelID, err := rpc.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			limit, err := rpc.OptionalArg(args, 1, 50)
			if err != nil {
				return nil, err
			}
			return svc.Activities(ctx, token, channelID, limit)
		},
		"publish": func(ctx context.Context, token *shared.ActorToken, args []json.RawMessage) (any, error) {
			channelID, err := rpc.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			msg, err := rpc.Arg[Activity](args, 1)
			if err != nil {
				return nil, err
			}
			return svc.PublishChecked(ctx, token, channelID, msg)
		},
		"deleteActivity": func(ctx context.Context, token *shared.ActorToken, args []json.RawMessage) (any, error) {
			id, err := rpc.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			if err := svc.DeleteActivity(ctx, token, id); err != nil {
				return nil, err
			}
			return map[string]string{"deleted": id}, nil
		},
	}
	for name, h := range endpoints {
		if err := reg.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}
