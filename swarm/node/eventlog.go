package node

import "time"

type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirInfo Direction = "info"
)

type Event struct {
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Content   string    `json:"content"`
}

// eventLog is a fixed capacity ring. Once full the oldest entry is overwritten.
type eventLog struct {
	buf   []Event
	next  int
	count int
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventLog{buf: make([]Event, capacity)}
}

func (l *eventLog) append(e Event) {
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// newestFirst returns a copy of the retained events, most recent first.
func (l *eventLog) newestFirst() []Event {
	out := make([]Event, 0, l.count)
	for i := 1; i <= l.count; i++ {
		out = append(out, l.buf[(l.next-i+len(l.buf))%len(l.buf)])
	}
	return out
}
