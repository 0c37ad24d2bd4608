package view

import (
	"time"

	"bindery/internal/collection"
)

// ContributeLastModified returns the session's collection timestamp
// for the page's cache-freshness computation. The caller folds it
// into the governing last-modified time; the false return means
// there is no session and nothing to contribute.
func ContributeLastModified(session *collection.Session) (time.Time, bool) {
	if session == nil || session.LastModified.IsZero() {
		return time.Time{}, false
	}

	return session.LastModified, true
}
