// File: internal/notify/log.go
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/silk-labs/silk-indexer/pkg/utils"
)

// LogSink writes notifications to the structured log. Used when no webhook
// is configured so the event stream is still visible to operators.
type LogSink struct {
	logger *logrus.Entry
}

// NewLogSink creates a log sink
func NewLogSink() *LogSink {
	return &LogSink{logger: utils.ComponentLogger("notify")}
}

// Name implements Sink
func (ls *LogSink) Name() string { return "log" }

// Send implements Sink
func (ls *LogSink) Send(_ context.Context, n *Notification) error {
	types := make([]string, 0, len(n.Events))
	for _, event := range n.Events {
		types = append(types, string(event.EventType))
	}
	ls.logger.WithFields(logrus.Fields{
		"address": n.Address,
		"events":  types,
	}).Info("Account events recorded")
	return nil
}
