package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

// Outbound hands queued notification records to delivery workers through a
// per-org Redis list. The message_logs row is the source of truth; the list
// only carries ids, and delivery workers reconcile against rows with
// status = 'queued' if a push is lost.
type Outbound struct{ rdb *r.Client }

func NewOutbound(rdb *r.Client) *Outbound { return &Outbound{rdb} }

func outboxKey(orgID string) string { return "outbox:" + orgID }

func (q *Outbound) PushMessage(ctx context.Context, orgID, messageID string) error {
	return errors.Wrap(q.rdb.LPush(ctx, outboxKey(orgID), messageID).Err(), "push outbound message")
}

// PopMessage blocks up to block waiting for the next queued message id.
// Returns "" when the wait times out.
func (q *Outbound) PopMessage(ctx context.Context, orgID string, block time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, block, outboxKey(orgID)).Result()
	if errors.Is(err, r.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "pop outbound message")
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}

// Depth reports how many messages are waiting for an org.
func (q *Outbound) Depth(ctx context.Context, orgID string) (int64, error) {
	n, err := q.rdb.LLen(ctx, outboxKey(orgID)).Result()
	return n, errors.Wrap(err, "outbox depth")
}
