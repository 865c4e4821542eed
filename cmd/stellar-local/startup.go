package main

import (
	"net"
	"net/http"
)

// serve starts srv on the bound listener, then runs start. The playback
// device fetches the restored track from /media during hydration, so start
// must not run before the listener accepts connections. The returned channel
// yields the result of Serve.
func serve(srv *http.Server, ln net.Listener, start func() error) (<-chan error, error) {
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ln)
	}()
	return served, start()
}
