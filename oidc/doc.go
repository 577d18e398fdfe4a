// Package oidc provides the shared types and collaborator contracts for
// driving the client side of OpenID Connect authentication flows: provider
// configurations, the callback context threaded through one authorization
// exchange, the renewal guard serializing silent renewals per configuration,
// and default implementations of the metadata, transport and storage
// collaborators.
package oidc
