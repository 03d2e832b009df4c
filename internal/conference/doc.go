// Package conference holds the conference data model, calendar-day helpers,
// the remote DataFetcher and the fetch-through ConferenceCache.
//
// # Data flow
//
// Cache.Get serves records from the key-value store while they are younger
// than the TTL. Once expired (or absent) it calls the Fetcher; a successful
// fetch replaces the cache entry, a failed one falls back to the stale entry
// or to an empty set. Get never returns an error.
package conference
