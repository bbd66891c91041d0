package api

import "github.com/dundeezhang/UWGitRank/pkg/logger"

// Option configures a Server.
type Option func(*Server)

// WithCronSecret sets the bearer secret guarding sync and refresh routes.
func WithCronSecret(secret string) Option {
	return func(s *Server) { s.cronSecret = secret }
}

// WithLimits sets the default and maximum page size.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Server) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		s.defaultLimit = min(s.defaultLimit, s.maxLimit)
	}
}

// WithCORSOrigins enables CORS for the given origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
