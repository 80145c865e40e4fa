package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"
)

// CommandObserver feeds Client activity for one app into the Prometheus
// metrics and the debug log. It satisfies sdk.Observer.
type CommandObserver struct {
	appKey string
	log    *logrus.Entry
}

// NewCommandObserver returns an observer whose log lines carry appKey
func NewCommandObserver(appKey string) *CommandObserver {
	return &CommandObserver{
		appKey: appKey,
		log:    L().WithField("app_key", appKey),
	}
}

// OnCommand records a queued command
func (o *CommandObserver) OnCommand(tag string, err error) {
	RecordCommand(tag, err)
	if err != nil {
		o.log.WithError(err).WithField("tag", tag).Warn("Command push failed")
		return
	}
	o.log.WithField("tag", tag).Debug("Command pushed")
}

// OnDirectCall records a direct engine call
func (o *CommandObserver) OnDirectCall(op string, duration time.Duration, err error) {
	RecordDirectCall(op, duration, err)
	if err != nil {
		o.log.WithError(err).WithField("op", op).Warn("Engine call failed")
	}
}

// OnSerializationError records a rejected operation
func (o *CommandObserver) OnSerializationError(op string, err error) {
	RecordRejection(op)
	o.log.WithError(err).WithField("op", op).Info("Operation rejected")
}
