// Package checkin executes one account's check-in: load the account, parse
// its request spec, run the HTTP attempt loop with retries, write one
// redacted audit row per attempt and announce the terminal result.
package checkin
