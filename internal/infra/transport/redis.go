package transport

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis fans frames out over redis pub/sub on
// blurchat:room:<room>:<member>.
type Redis struct {
	*router
	rdb    *redis.Client
	pubsub *redis.PubSub
	done   chan struct{}
}

func redisChannel(room, member string) string {
	return "blurchat:room:" + room + ":" + member
}

func NewRedis(ctx context.Context, rdb *redis.Client, privateKey string) (*Redis, error) {
	t := &Redis{rdb: rdb, done: make(chan struct{})}

	var err error
	t.router, err = newRouter(privateKey, func(ctx context.Context, room, member string, data []byte) error {
		return rdb.Publish(ctx, redisChannel(room, member), data).Err()
	})
	if err != nil {
		return nil, err
	}

	t.pubsub = rdb.PSubscribe(ctx, redisChannel("*", t.identity))
	if _, err := t.pubsub.Receive(ctx); err != nil {
		t.pubsub.Close()
		return nil, err
	}

	go t.loop()
	return t, nil
}

func (t *Redis) loop() {
	defer close(t.done)
	for msg := range t.pubsub.Channel() {
		t.receive([]byte(msg.Payload))
	}
	log.Debug().Msg("redis transport stopped")
}

func (t *Redis) Close() {
	t.pubsub.Close()
	<-t.done
}
