// Package logging provides the structured logging used by both the pizauth
// daemon and its CLI. It is a thin wrapper over log/slog: a subsystem tag is
// attached to every record so messages from the refresher, notifier, eventer,
// callback server and control socket can be told apart in a shared log
// stream.
//
// Token values are never passed to this package. Components that need to
// record that a token-related action happened use Audit, which logs the
// action, outcome and account name but never the token itself.
package logging
