// Package session tracks login sessions in Redis. Each session is one
// compact binary value keyed by session ID, plus a per-user set index for
// listing. Ended sessions are kept (marked inactive) until their TTL expires
// so device listings can show recent logouts.
package session
