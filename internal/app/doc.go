// Package app provides the application context for sandboxd.
//
// This package builds every lifecycle component from the configuration
// using the functional options pattern, enabling easy testing through
// dependency injection.
//
// # Creating an App
//
//	// Production usage
//	a, err := app.New(ctx, cfg)
//	defer a.Close(ctx)
//
//	// Testing with custom dependencies
//	a, err := app.New(ctx, cfg,
//	    app.WithRuntime(runtime.NewMockRuntime()),
//	    app.WithSessions(session.NewMemoryStore(0)),
//	)
//
// # Available Options
//
//	WithRuntime(runtime)   // Custom container runtime
//	WithStore(store)       // Pre-opened record store
//	WithSessions(store)    // Custom session store
//	WithCache(cache)       // Custom sandbox cache
//
// Without a Redis URL, sessions and cached sandbox facts live in process
// memory; with one, both are shared through Redis.
package app
