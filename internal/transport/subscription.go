package transport

import "sync"

// Subscription is the scoped handle returned by Subscribe. Cancel is
// idempotent and removes exactly the registration that produced it, so
// components can guarantee teardown with a plain defer.
type Subscription struct {
	conn    *Conn
	channel string
	id      uint64
	once    sync.Once
}

// Subscribe registers a handler for a channel. Multiple handlers per channel
// are permitted and are invoked in registration order.
func (c *Conn) Subscribe(channel string, h Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	c.handlers[channel] = append(c.handlers[channel], subscriber{id: c.nextSubID, fn: h})
	return &Subscription{conn: c, channel: channel, id: c.nextSubID}
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		c := s.conn
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.handlers[s.channel]
		for i, sub := range subs {
			if sub.id == s.id {
				c.handlers[s.channel] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(c.handlers[s.channel]) == 0 {
			delete(c.handlers, s.channel)
		}
	})
}

// SubscriptionSet collects subscriptions owned by one component so a single
// Close tears all of them down.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (ss *SubscriptionSet) Add(s *Subscription) {
	ss.mu.Lock()
	ss.subs = append(ss.subs, s)
	ss.mu.Unlock()
}

func (ss *SubscriptionSet) CancelAll() {
	ss.mu.Lock()
	subs := ss.subs
	ss.subs = nil
	ss.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}
