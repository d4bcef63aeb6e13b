// Package projection turns a raw collection of score records into the
// canonical best-per-player ranking.
//
// Build is a pure function over an immutable input:
//   - one Standing per distinct identity key (see entry.Normalize)
//   - a later record replaces the incumbent only with a strictly greater
//     score, so on exact ties the first record seen keeps the spot
//   - standings sorted by best score descending; equal scores keep the
//     order in which their identities were first seen
//
// Malformed fields never abort a build; entry.Parse degrades them to
// defaults and the record still contributes to its identity's count.
package projection
