package ordersync

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/sirupsen/logrus"
)

func syncRunTopic() string {
	if v := os.Getenv("SYNC_RUN_TOPIC"); v != "" {
		return v
	}
	return "trackops-sync-runs"
}

// PublishSyncRun hands a queued run to the worker pool via Pub/Sub. With
// SYNC_DIRECT_DISPATCH the run executes in-process instead, for local
// development and single-instance deployments.
func PublishSyncRun(ctx context.Context, msg SyncRunMessage) error {
	logger := config.GetLogger().WithFields(logrus.Fields{
		"module":      "ordersync",
		"runId":       msg.RunId,
		"operationId": msg.OperationId,
	})

	if config.SyncDirectDispatch() {
		go func() {
			runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
			defer cancel()
			if err := ProcessSyncRun(runCtx, msg); err != nil {
				logger.WithError(err).Error("direct-dispatch sync run failed")
			}
		}()
		logger.Info("sync run dispatched in-process")
		return nil
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, syncRunTopic())
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return err
	}
	logger.Info("sync run published")
	return nil
}

// PubSubPushHandler receives Pub/Sub push deliveries for sync runs. It always
// acks malformed envelopes (a retry cannot fix them) and lets processing
// errors surface as 500 so Pub/Sub redelivers.
func PubSubPushHandler(c *gin.Context) {
	var envelope PubSubPushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		config.GetLogger().WithError(err).Warn("malformed pubsub push envelope; acking")
		c.Status(http.StatusNoContent)
		return
	}

	var msg SyncRunMessage
	if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil || msg.RunId == 0 {
		config.GetLogger().WithFields(logrus.Fields{
			"module":    "ordersync",
			"messageId": envelope.Message.ID,
		}).Warn("undecodable sync run message; acking")
		c.Status(http.StatusNoContent)
		return
	}

	// Best-effort redis lock to keep concurrent redeliveries from piling up
	// on the advisory lock; the MySQL lock inside ProcessSyncRun is the real
	// guard.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(c.Request.Context(), "lock:"+msg.OperationId, 30*time.Minute, nil)
		if err == nil {
			defer lock.Release(context.Background())
		} else if err == redislock.ErrNotObtained {
			config.GetLogger().WithFields(logrus.Fields{
				"module":      "ordersync",
				"operationId": msg.OperationId,
			}).Info("operation busy; asking for redelivery")
			c.Status(http.StatusServiceUnavailable)
			return
		}
	}

	if err := ProcessSyncRun(c.Request.Context(), msg); err != nil {
		config.LogError(config.GetLogger(), "ordersync", "PubSubPushHandler",
			"run", msg, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}
