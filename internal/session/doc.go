// Package session persists web-script session data.
//
// A session is a JSON object keyed by an opaque ID carried in the GLSESSID
// cookie. Scripts see it as the _SESSION table; the engine's session check
// reads its "authorized" field.
package session
