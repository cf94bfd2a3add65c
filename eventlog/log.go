// Package eventlog records realtime protocol events for display.
//
// Consecutive events of the same type collapse into one entry whose Count
// tracks how many arrived; the payload kept is that of the first occurrence.
package eventlog

import (
	"fmt"
	"sync"
	"time"
)

type Source string

const (
	SourceClient Source = "client"
	SourceServer Source = "server"
)

type Event struct {
	Time    time.Time
	Source  Source
	Type    string
	Payload any
	// Count is the number of consecutive occurrences merged into this entry.
	Count int
}

type Log struct {
	mu      sync.RWMutex
	entries []Event
}

func New() *Log {
	return &Log{}
}

// Append adds e, merging it into the last entry if the types match. It
// returns the entry as stored.
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.entries); n > 0 && l.entries[n-1].Type == e.Type {
		l.entries[n-1].Count++
		return l.entries[n-1]
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Count = 1
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy of the log in arrival order.
func (l *Log) Entries() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// FormatElapsed renders t relative to start as mm:ss.hh.
func FormatElapsed(start, t time.Time) string {
	delta := t.Sub(start).Milliseconds()
	if delta < 0 {
		delta = 0
	}
	hs := (delta / 10) % 100
	s := (delta / 1000) % 60
	m := (delta / 60_000) % 60
	return fmt.Sprintf("%02d:%02d.%02d", m, s, hs)
}
