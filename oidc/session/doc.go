// Package session orchestrates unattended renewal of an expiring OIDC
// session: forced and automatic refreshes, the choice between a
// refresh-token grant and a hidden-frame silent renewal, per-configuration
// serialization of renewal attempts, and bounded retry of timed-out
// hidden-frame renewals.
package session
