// Package errors implements the narrow error-reporting contract that the
// rest of corestate consumes instead of calling log/panic directly. It
// stands in for the external "tm_error_api" of the source engine: a
// non-fatal errorf() for recoverable programmer/data errors and a fatal()
// for violations of the single-owning-thread contracts.
package errors

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Severity ranks a reported condition from informational to critical,
// shared by both the Truth and Entity packages.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Reporter is the interface every corestate subsystem takes instead of a
// global logger. file/line mirror the source engine's errorf(file, line, ...)
// signature so call sites read the same regardless of which concrete
// Reporter backs them.
type Reporter interface {
	Errorf(file string, line int, format string, args ...interface{})
	Fatal(file string, line int, format string, args ...interface{})
}

// ZerologReporter is the default Reporter, logging through zerolog rather
// than a bespoke logger.
type ZerologReporter struct {
	mu  sync.Mutex
	log zerolog.Logger
}

// NewZerologReporter builds a Reporter writing to os.Stderr.
func NewZerologReporter() *ZerologReporter {
	return &ZerologReporter{log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()}
}

func (r *ZerologReporter) Errorf(file string, line int, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Error().Str("file", file).Int("line", line).Msg(fmt.Sprintf(format, args...))
}

// Fatal logs at panic level and then panics. It deliberately does not call
// os.Exit: corestate is a library, and only the hosting process gets to
// decide whether a single-owning-thread-contract violation brings the
// process down.
func (r *ZerologReporter) Fatal(file string, line int, format string, args ...interface{}) {
	r.mu.Lock()
	msg := fmt.Sprintf(format, args...)
	event := r.log.Panic().Str("file", file).Int("line", line)
	r.mu.Unlock()
	event.Msg(msg)
}

// Default is the package-level Reporter new Truth/Entity contexts use
// unless the caller supplies their own (e.g. to route into a host
// application's own logging pipeline).
var Default Reporter = NewZerologReporter()
