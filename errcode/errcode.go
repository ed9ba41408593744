package errcode

import "errors"

// Code is a stable error identifier for everything the abstraction layer can
// report. It is a string newtype, comparable, allocation-free, and implements
// error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	InvalidPin          Code = "invalid_pin"
	PinAlreadyOpen      Code = "pin_already_open"
	WrongDirection      Code = "wrong_direction"
	UnsupportedEdgeMode Code = "unsupported_edge_mode"
	PinNotInput         Code = "pin_not_input"

	NoBackendAvailable Code = "no_backend_available"
	BackendError       Code = "backend_error"

	InvalidBusId Code = "invalid_bus_id"
	BusBusy      Code = "bus_busy"
	BusInUse     Code = "bus_in_use"

	Error Code = "error" // generic fallback
)

// Severity classifies how bad a reported condition is. Fatal conditions abort
// the requested operation and leave the touched resources in their pre-call
// state; warnings are reported but do not stop the caller.
type Severity uint8

const (
	Info Severity = iota
	Warning
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// defaultSeverity maps each code to the severity it carries unless a caller
// overrides it at construction.
func defaultSeverity(c Code) Severity {
	switch c {
	case OK:
		return Info
	case BusBusy:
		return Warning
	default:
		return Fatal
	}
}

// E keeps context around a Code: the operation, the backend that produced it,
// an optional message and an optional cause. Immutable once constructed.
type E struct {
	C       Code
	Sev     Severity
	Op      string
	Backend string
	Msg     string
	Err     error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }

func (e *E) Code() Code { return e.C }

func (e *E) Severity() Severity { return e.Sev }

// Is makes errors.Is(err, errcode.BusBusy) work on wrapped values.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && e.C == c
}

// New builds an E for op with the code's default severity.
func New(c Code, op, msg string) *E {
	return &E{C: c, Sev: defaultSeverity(c), Op: op, Msg: msg}
}

// Wrap translates a raw backend failure into BackendError, preserving the
// original message via the cause chain. Backend names which driver produced
// the failure.
func Wrap(backend, op string, err error) *E {
	return &E{C: BackendError, Sev: Fatal, Op: op, Backend: backend, Err: err}
}

// Of extracts a Code from anywhere in err's chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var e *E
	if errors.As(err, &e) {
		return e.C
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// SeverityOf extracts the severity carried by err. Plain codes report their
// default severity; unknown errors are Fatal.
func SeverityOf(err error) Severity {
	if err == nil {
		return Info
	}
	var e *E
	if errors.As(err, &e) {
		return e.Sev
	}
	var c Code
	if errors.As(err, &c) {
		return defaultSeverity(c)
	}
	return Fatal
}
