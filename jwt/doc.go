// Package jwt wraps github.com/golang-jwt/jwt/v5 with the claim schema and
// verification policy used by the stepauth engine: typed access/refresh
// claims, strict algorithm pinning, leeway-bounded time validation, and
// key-ID based verification key rotation.
package jwt
