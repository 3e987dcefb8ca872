// Package identity provides the account subsystem for staykit services:
// credential hashing, JWT session issuance, single-use verification tokens,
// and the HTTP surface that ties them together.
//
// Sessions:
//   - TokenService signs HS256 JWTs carrying a numeric user id, email, name,
//     and admin flag. Two session classes exist: a short default session and
//     an extended "remember me" session, both configured through Config.
//   - RouteAuthenticator owns the cookie contract. The token rides in an
//     HTTP-only, SameSite Lax cookie whose max age always equals the token's
//     expiry window. Logout clears the cookie; previously issued tokens stay
//     valid until they expire on their own.
//
// Verification tokens:
//   - VerificationTokens issues single-use random tokens for email
//     verification, invitations, and password resets. Issuing a token
//     invalidates earlier active tokens of the same type for that user, and
//     consumption is a single conditional update so concurrent requests
//     resolve to exactly one winner.
//
// Flows:
//   - Command handlers (SignUpHandler, VerifyEmailHandler, and friends) run
//     each flow inside a repository transaction and hand delivery off to a
//     Notifier after commit. Flows that could reveal whether an address is
//     registered always answer with the same generic message.
package identity
