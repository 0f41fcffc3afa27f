// Package binder locks a cat identity onto each tracked object.
//
// A track is resolved at most once: the first call for an unseen track id
// extracts an embedding, matches it against the current bank and locks the
// decision. Every later call returns the locked decision until the track is
// released or reaped. Failures never escape; they lock the track as
// Unmatched(0).
package binder
