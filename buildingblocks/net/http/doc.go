// Package http holds the fiber boundary of the tenant context: a middleware
// that resolves the tenant of each request from its header, query string or
// token claims and switches the request context to it for the duration of
// the handler chain.
package http
