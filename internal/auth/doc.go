// Package auth authenticates management requests.
//
// Bearer tokens are JWTs signed with HS256 or RS256 carrying a subject, a
// role set (viewer or operator) and optionally a scope set (read, control,
// telemetry). A token without scopes is granted the scopes of its roles:
// viewers read and subscribe, operators additionally control. Every request
// except /api/v1/health needs a token.
package auth
