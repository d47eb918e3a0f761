// Package session owns the lifecycle of the user's bearer credential.
//
// A [Manager] is the single owner of the current [models.Session]. It loads the
// persisted session at start-up, replaces it on login and refresh, and clears
// it on logout. While a session is active exactly one renewal timer is
// pending; it fires [DefaultRefreshLead] before the credential's expiry claim.
//
// Persistence is abstracted by [Store]. The SQLite-backed store lives in the
// repositories package; [KeyringStore] keeps the session in the OS keychain.
//
// The Manager also satisfies the services.Credentials interface consumed by the
// request layer, which drives the refresh-then-replay-once flow on a 401.
package session
