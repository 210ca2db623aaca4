// Package notify adapts sync outcomes for the notification
// collaborator. Delivery itself lives outside this service; the
// default implementation just logs the emission.
package notify

import (
	"time"

	"go.uber.org/zap"

	"record-sync-service/internal/logger"
	"record-sync-service/internal/sync"
)

// LogNotifier satisfies sync.Notifier by logging each synced record.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) RecordSynced(collection, id string, kind sync.OpKind, at time.Time) {
	logger.Log.Info("Record synced",
		zap.String("collection", collection),
		zap.String("id", id),
		zap.String("operation", string(kind)),
		zap.Time("at", at),
	)
}
