package registry

// Service is a long-running part of the plugin. Start must return once the
// service is running; Stop blocks until its goroutines have exited.
type Service interface {
	Start() error
	Stop() error
}
