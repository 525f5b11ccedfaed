package supervisor

import "time"

// Observer receives supervisor events for metrics and telemetry.
//
// Methods are called synchronously from whichever goroutine drives the
// supervisor (the poll loop or a transport callback) and must not block.
type Observer interface {
	// ConnectAttempt is called when a reconnect passes the backoff gate.
	// next is the window that now applies to the following attempt.
	ConnectAttempt(next time.Duration)
	Connected()
	Disconnected(err error)
	Published(topic string)
	PublishFailed(topic string, err error)
}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) ConnectAttempt(next time.Duration) {
	for _, obs := range o {
		obs.ConnectAttempt(next)
	}
}

func (o Observers) Connected() {
	for _, obs := range o {
		obs.Connected()
	}
}

func (o Observers) Disconnected(err error) {
	for _, obs := range o {
		obs.Disconnected(err)
	}
}

func (o Observers) Published(topic string) {
	for _, obs := range o {
		obs.Published(topic)
	}
}

func (o Observers) PublishFailed(topic string, err error) {
	for _, obs := range o {
		obs.PublishFailed(topic, err)
	}
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) ConnectAttempt(time.Duration) {}
func (NopObserver) Connected()                   {}
func (NopObserver) Disconnected(error)           {}
func (NopObserver) Published(string)             {}
func (NopObserver) PublishFailed(string, error)  {}
