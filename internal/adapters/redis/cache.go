package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// NotificationSeen reports whether a gateway notification was already fully
// processed. The database CAS path remains the idempotency authority; this
// only short-circuits obvious redeliveries.
func (c *Cache) NotificationSeen(ctx context.Context, correlationID, outcome string) (bool, error) {
	res := c.client.Exists(ctx, notifKey(correlationID, outcome))
	return res.Val() > 0, res.Err()
}

// MarkNotificationSeen is called only after a notification has been applied
// end to end, so a crash mid-processing never suppresses the redelivery that
// finishes the job.
func (c *Cache) MarkNotificationSeen(ctx context.Context, correlationID, outcome string, ttl time.Duration) error {
	return c.client.Set(ctx, notifKey(correlationID, outcome), time.Now().Unix(), ttl).Err()
}

func notifKey(correlationID, outcome string) string {
	return "notif:" + correlationID + ":" + outcome
}
