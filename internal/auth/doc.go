// Package auth is the session authority for Gatekeeper.
//
// It owns the account and session tables, the in-memory Registry of who
// is logged in, and the Sessions lifecycle that keeps the two consistent:
// every transition writes the store first and the registry second.
//
// Accounts carry one of five privilege levels (View < Low < Medium <
// High < Super) compared by ordinal. Session tokens are opaque
// 40-character strings held server side, one per user. Passwords are
// stored as Argon2id PHC strings.
package auth
