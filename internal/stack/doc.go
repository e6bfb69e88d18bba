// Package stack assembles HTTP request pipelines from conditional entries.
//
// A Stack holds three kinds of entry, each optionally gated by a
// matcher.Matcher:
//
//	s := stack.New()
//	s.Use(middleware.Logging(logger), nil)                           // wraps everything below
//	s.Use(limiter, stack.Args{"max_tokens": 10}, stack.Named("rl"))  // removable by name
//	s.Group(func(api *stack.Stack) {                                  // nested stack
//		api.Use(auth, stack.Args{"api_keys": []string{"k1"}})
//		api.Run(proxyHandler)
//	}, stack.When(matcher.MustAll("path", matcher.MustPattern(`^/api`))))
//	s.Run(fallback)                                                   // terminal
//
// For each request the stack keeps the entries whose matchers accept it,
// stops at the first terminal, and nests the surviving middleware in
// registration order. Middleware is constructed once per entry, on the first
// request that reaches it, and reused afterwards.
package stack
