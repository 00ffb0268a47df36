// Package notify is the cross-process bus between the interactive handler,
// the reconciler and the subscriber worker. Delivery is at-most-once with no
// replay: anything a process misses, the next reconciliation pass recomputes.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Well-known topics. Payloads are colon-joined ids.
const (
	// TopicCommit fires when a reservation draft reaches its final step;
	// payload "<userID>:<messageID>".
	TopicCommit = "takeAffect"

	// TopicClose asks whichever process can reach the chat to freeze a
	// rendered message; payload "<chatID>:<messageID>".
	TopicClose = "close"

	// TopicIdentityRefresh tells the process holding a session for a chat to
	// reload its user; payload "<chatID>".
	TopicIdentityRefresh = "updateUser"
)

type Handler func(ctx context.Context, payload string) error

type Notifier struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Notifier {
	return &Notifier{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (n *Notifier) Close() error {
	return n.rdb.Close()
}

func (n *Notifier) Ping(ctx context.Context) error {
	return n.rdb.Ping(ctx).Err()
}

func (n *Notifier) Publish(ctx context.Context, topic, payload string) error {
	if err := n.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe blocks consuming the given topics until ctx is done. A handler
// error is logged and the loop keeps going; losing one message must not take
// the subscriber down with it.
func (n *Notifier) Subscribe(ctx context.Context, handlers map[string]Handler) error {
	topics := make([]string, 0, len(handlers))
	for t := range handlers {
		topics = append(topics, t)
	}

	sub := n.rdb.Subscribe(ctx, topics...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("notify: subscribe %v: %w", topics, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h := handlers[msg.Channel]
			if h == nil {
				continue
			}
			if err := h(ctx, msg.Payload); err != nil {
				log.Printf("notify: %s handler: %v", msg.Channel, err)
			}
		}
	}
}

// JoinIDs encodes the two-id payload format.
func JoinIDs(a, b int64) string {
	return fmt.Sprintf("%d:%d", a, b)
}

// SplitIDs decodes a "<a>:<b>" payload.
func SplitIDs(payload string) (int64, int64, error) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("notify: malformed payload %q", payload)
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("notify: malformed payload %q", payload)
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("notify: malformed payload %q", payload)
	}
	return a, b, nil
}
