// Package entry defines the score-submission record and the lenient parsing
// boundary that turns whatever a store hands back into usable values.
//
// A Record is the wire shape: every field is optional and round-trips
// exactly as written. Entry is the parsed view with defaults applied:
//   - missing or blank name becomes AnonymousName
//   - missing, non-numeric or non-finite score becomes 0
//
// Leniency lives here and nowhere else. Callers above this package work with
// Entry values and never re-check for absent fields.
//
// Identity keys (Normalize) are the deduplication key for ranking: trimmed,
// NFC-normalized, lower-cased display names.
package entry
