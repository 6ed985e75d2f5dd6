package api

import (
    "sync"
)

type SSEEvent struct {
    Type string
    Data map[string]any
}

type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{} // eventId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(eventID string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[eventID] == nil { b.subs[eventID] = map[chan SSEEvent]struct{}{} }
    b.subs[eventID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(eventID string, ch chan SSEEvent) {
    b.mu.Lock()
    if m := b.subs[eventID]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, eventID) }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(eventID string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[eventID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
