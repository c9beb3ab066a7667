package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chartind/internal/indicator"
	"chartind/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Command operations accepted on the command channel.
const (
	OpAdd       = "add"
	OpOverride  = "override"
	OpRemove    = "remove"
	OpCalc      = "calc"
	OpPrecision = "precision"
)

// Command is one store operation sent over Redis Pub/Sub.
type Command struct {
	Op        string           `json:"op"`
	Pane      string           `json:"pane,omitempty"`
	Name      string           `json:"name,omitempty"`
	Stack     bool             `json:"stack,omitempty"`
	Config    indicator.Config `json:"config,omitzero"`
	Precision *model.Precision `json:"precision,omitempty"`
}

// ParseCommand decodes and validates a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	switch cmd.Op {
	case OpAdd, OpOverride:
		if cmd.Config.Name == "" {
			return Command{}, fmt.Errorf("%s command: config.name is required", cmd.Op)
		}
	case OpRemove:
		if cmd.Pane == "" {
			return Command{}, fmt.Errorf("remove command: pane is required")
		}
	case OpCalc:
	case OpPrecision:
		if cmd.Precision == nil {
			return Command{}, fmt.Errorf("precision command: precision is required")
		}
	default:
		return Command{}, fmt.Errorf("unknown command op %q", cmd.Op)
	}
	return cmd, nil
}

// PublishCommand sends cmd on channel.
func PublishCommand(ctx context.Context, client goredis.Cmdable, channel string, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return client.Publish(ctx, channel, data).Err()
}

// SubscribeCommands listens on channel and hands every valid command to
// handle, one at a time. Malformed payloads are logged and skipped. Blocks
// until ctx is cancelled.
func SubscribeCommands(ctx context.Context, client *goredis.Client, channel string, handle func(context.Context, Command)) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	log := slog.Default().With(slog.String("component", "redis-commands"))
	log.Info("listening for commands", slog.String("channel", channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			cmd, err := ParseCommand([]byte(msg.Payload))
			if err != nil {
				log.Warn("bad command", slog.Any("error", err))
				continue
			}
			handle(ctx, cmd)
		}
	}
}
