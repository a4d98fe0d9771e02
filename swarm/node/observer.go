package node

import (
	log "github.com/sirupsen/logrus"
)

// Observer receives every event a node logs. Calls happen on the node loop and must not block.
type Observer interface {
	OnEvent(e Event)
}

type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}

// LogObserver writes events to logrus at debug level.
type LogObserver struct {
	Logger log.FieldLogger
}

func (o LogObserver) OnEvent(e Event) {
	l := o.Logger
	if l == nil {
		l = log.StandardLogger()
	}
	l.WithFields(log.Fields{"node": e.NodeID, "dir": e.Direction}).Debug(e.Content)
}
