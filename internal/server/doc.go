// Package server implements the user record service on raw TCP. It reads
// one HTTP/1.1-style request per connection, parses it by hand, routes it
// to a handler backed by a store.Gateway, writes a textual response and
// closes the connection. Each connection runs on its own goroutine.
package server
