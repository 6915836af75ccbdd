package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// can be redirected or muted with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Sampler logs the first of every N occurrences of a recurring condition,
// such as a malformed sensor frame, so a burst cannot flood the log.
// The zero value logs every occurrence.
type Sampler struct {
	Every uint64
	n     atomic.Uint64
}

// Logf records one occurrence and logs it when it falls on the sampling
// boundary. The running count is appended to the message.
func (s *Sampler) Logf(format string, v ...interface{}) {
	n := s.n.Add(1)
	if s.Every > 1 && n%s.Every != 1 {
		return
	}
	Logf(format+" (count=%d)", append(v, n)...)
}

// Count returns the number of occurrences recorded so far.
func (s *Sampler) Count() uint64 { return s.n.Load() }
