// Package idp integrates the administrative console with an OpenID Connect
// identity provider. It authenticates operators, verifies bearer tokens,
// and provisions profiles from IdP group membership at login time.
package idp
