package middleware

import (
	tele "gopkg.in/telebot.v4"
)

const messagesKey = "messages"

// metricsContext wraps tele.Context to count messages sent while handling an update.
type metricsContext struct{ tele.Context }

func (m metricsContext) incMessages() {
	n, _ := m.Get(messagesKey).(int)
	m.Set(messagesKey, n+1)
}

// Send proxies tele.Context.Send while updating the message counter.
func (m metricsContext) Send(what interface{}, opts ...interface{}) error {
	err := m.Context.Send(what, opts...)
	if err == nil {
		m.incMessages()
	}
	return err
}

// Reply proxies tele.Context.Reply while updating the message counter.
func (m metricsContext) Reply(what interface{}, opts ...interface{}) error {
	err := m.Context.Reply(what, opts...)
	if err == nil {
		m.incMessages()
	}
	return err
}

// MessageMetricsMiddleware instruments the context to count outgoing messages.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set(messagesKey, 0)
		return next(metricsContext{Context: c})
	}
}

// MessageCount returns how many messages the current handler has sent.
func MessageCount(c tele.Context) int {
	n, _ := c.Get(messagesKey).(int)
	return n
}
