// Package google manages the OAuth2 credential pdffetch uses to read Gmail.
//
// A Manager turns an OAuth client file into an authenticated Session:
// it reuses a stored token when still valid, refreshes it silently when it
// has expired, and otherwise runs the interactive loopback flow in the
// user's browser. Every new or refreshed token is written back to the
// configured TokenStore (a JSON file or the OS keyring).
//
// There is no package-level token state; the Session returned by
// ObtainSession owns the credential for the rest of the run.
package google
