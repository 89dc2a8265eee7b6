package conn

// Listener receives connection lifecycle callbacks and raw inbound frames.
// Frame is invoked from the single reader goroutine, so frames arrive in
// receipt order; implementations that need to do real work should hand the
// payload off to their own goroutine.
type Listener interface {
	Connected()
	Disconnected()
	Frame(raw string)
	Error(msg string)
}

// Subscription is a handle for a registered Listener.
type Subscription struct {
	cancel func()
}

// Cancel removes the listener. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
