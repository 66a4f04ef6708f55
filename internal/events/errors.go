package events

import "errors"

// errMissingShell is logged (not returned -- the eventer has no caller to
// return to) when $SHELL is unset at dispatch time. absence
// of $SHELL is a hard requirement violation; the daemon itself refuses to
// start without it (see internal/daemon), so this path is defense in depth
// for a hook that races an environment change.
var errMissingShell = errors.New("SHELL environment variable is not set")
