// Package fetcher retrieves raw exposition lines for one scrape cycle.
//
// With a manager host, Fetch issues GET http://{host}:{port}{path} (9283 and
// /metrics by default). Without one it reads the local fallback snapshot.
// Either way the result is the payload's lines in source order with blank
// lines removed. Failures are *FetchError values carrying a Cause tag; all of
// them match ErrFetch.
package fetcher
