package archive

import "strings"

// DefaultBaseURL is the Wayback Machine snapshot endpoint.
const DefaultBaseURL = "https://web.archive.org/web/"

// NotArchivedMarker is the text the Wayback Machine renders when it has no
// capture for a URL but still answers with a success status.
const NotArchivedMarker = "Wayback Machine has not archived that URL."

// LookupURL builds the archive URL that redirects to the snapshot nearest to
// target.Timestamp, or to the latest capture when the timestamp is empty.
func LookupURL(baseURL string, target Target) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if target.Timestamp == "" {
		return baseURL + target.OriginalURL
	}
	return baseURL + target.Timestamp + "/" + target.OriginalURL
}
