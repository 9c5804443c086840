package context

type key int

const (
	LogSourceKey key = iota
	RequestIDKey
	DeviceIDKey
	AppKey
)
