package protocol

import "errors"

// Sentinel error kinds, in the style of package-level errors.New
// sentinels, wrapped with fmt.Errorf("%w: ...", ...) at each call site
// that returns one.
var (
	ErrResolve  = errors.New("resolving server address")
	ErrAuth     = errors.New("authentication failed")
	ErrProtocol = errors.New("unexpected or malformed packet")
	ErrTransport = errors.New("transport disconnected")
	ErrParse    = errors.New("failed to parse zone asset")
	ErrNotInZone = errors.New("not fully zoned in")
)
