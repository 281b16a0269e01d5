package host

// Notifier receives asynchronous board events such as interrupt loglist
// entries. data is only valid for the duration of the call.
type Notifier interface {
	Notify(group, command, attribute int, data []byte) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(group, command, attribute int, data []byte) error

// Notify calls f.
func (f NotifierFunc) Notify(group, command, attribute int, data []byte) error {
	return f(group, command, attribute, data)
}
