// Package runtime launches goroutines with panic recovery so a failing
// background component logs and counts the panic instead of taking the
// process down.
package runtime
