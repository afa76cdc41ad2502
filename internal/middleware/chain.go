package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain represents an ordered list of middlewares
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Then chains the middlewares and returns the final handler.
// The first middleware is outermost.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Builder helps build middleware chains from configuration
type Builder struct {
	middlewares []Middleware
}

// NewBuilder creates a new middleware builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Use adds a middleware to the builder
func (b *Builder) Use(m Middleware) *Builder {
	b.middlewares = append(b.middlewares, m)
	return b
}

// UseIf adds a middleware conditionally
func (b *Builder) UseIf(condition bool, m Middleware) *Builder {
	if condition {
		b.middlewares = append(b.middlewares, m)
	}
	return b
}

// Build creates a Chain from the builder
func (b *Builder) Build() *Chain {
	return NewChain(b.middlewares...)
}

// Handler wraps the given handler with all middlewares
func (b *Builder) Handler(h http.Handler) http.Handler {
	return b.Build().Then(h)
}
