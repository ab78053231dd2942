package google

import (
	"strings"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
)

// DefaultOAuthScopes are the scopes requested during authorization.
// pdffetch only ever reads mail.
var DefaultOAuthScopes = []string{
	gmail.GmailReadonlyScope,
}

// coversScopes reports whether granted includes every scope in want.
// Credentials saved without scope information are accepted.
func coversScopes(granted, want []string) bool {
	if len(granted) == 0 {
		return true
	}
	set := make(map[string]bool, len(granted))
	for _, s := range granted {
		set[s] = true
	}
	for _, s := range want {
		if !set[s] {
			return false
		}
	}
	return true
}

// grantedScopes returns the scopes the provider reported with tok,
// falling back to the requested ones.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return append([]string(nil), requested...)
}
