/*
callback provides handlers for completing the provider's redirect back to
the application: CodeFlow extracts and validates the authorization code
response and exchanges the code for tokens, and Implicit wraps a shared
callback processor with outcome routing and renewal-state cleanup.
*/
package callback
