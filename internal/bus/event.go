package bus

import "time"

// Event is a domain event published on the in-process bus.
//
// Kind is a dot-separated name; subscribers filter by prefix. Namespaces in
// use: "conn." (connection lifecycle), "chat." (message activity), "friend."
// (friend list and request transitions), "notify." (delivery-bridge surface
// events for front-ends), "session." (auth/session lifecycle).
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
