package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	wakeupChannel        = "tsc-deploy:job-wakeup"
	wakeupPublishTimeout = 2 * time.Second
)

// notifier signals waiting ClaimNext calls that a job may be available,
// without requiring them to poll on a tight timer. It always supports
// in-process wakeup (a buffered channel, same idiom as the agent executor's
// job channel); when redisURL is set it also publishes/subscribes over
// redis so that multiple server processes sharing one store wake each
// other's workers. Both sources, when present, are pumped into a single
// merged channel at construction time so wakeups() never allocates.
type notifier struct {
	local  chan struct{}
	merged chan struct{}
	logger *zap.Logger

	redisClient *redis.Client
	pubsub      *redis.PubSub
}

func newNotifier(ctx context.Context, redisURL string, logger *zap.Logger) (*notifier, error) {
	n := &notifier{
		local:  make(chan struct{}, 1),
		merged: make(chan struct{}, 1),
		logger: logger.Named("notifier"),
	}

	if redisURL == "" {
		go n.pump(n.local, nil)
		return n, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("notify: failed to connect to redis: %w", err)
	}

	n.redisClient = client
	n.pubsub = client.Subscribe(ctx, wakeupChannel)
	n.logger.Info("cross-process wakeup enabled via redis")
	go n.pump(n.local, n.pubsub.Channel())
	return n, nil
}

// pump fans local and (optionally) remote wakeups into the merged channel
// for the lifetime of the notifier. remote is nil when redis is disabled.
func (n *notifier) pump(local <-chan struct{}, remote <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-local:
			if !ok {
				return
			}
		case _, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
		}
		select {
		case n.merged <- struct{}{}:
		default:
			// A wakeup is already pending; coalescing is fine since
			// ClaimNext re-checks the store on every wakeup regardless of
			// which source fired.
		}
	}
}

// wake signals one waiting claimant in this process and, if redis is
// configured, every subscriber across every process.
func (n *notifier) wake() {
	select {
	case n.local <- struct{}{}:
	default:
	}

	if n.redisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wakeupPublishTimeout)
	defer cancel()
	if err := n.redisClient.Publish(ctx, wakeupChannel, "1").Err(); err != nil {
		n.logger.Warn("failed to publish wakeup", zap.Error(err))
	}
}

// wakeups returns the channel ClaimNext selects on.
func (n *notifier) wakeups() <-chan struct{} {
	return n.merged
}

func (n *notifier) Close() error {
	if n.pubsub != nil {
		_ = n.pubsub.Close()
	}
	if n.redisClient != nil {
		return n.redisClient.Close()
	}
	return nil
}
