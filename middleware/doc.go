// Package middleware provides net/http glue for stepauth: a guard that
// validates bearer tokens through the engine and injects the result into the
// request context.
package middleware
