// oidcflow provides the packages needed to drive the client side of the
// OpenID Connect authorization code and implicit flows for single-page
// applications: completing redirect callbacks, exchanging authorization
// codes for tokens, and silently renewing an expiring session.
package oidcflow
