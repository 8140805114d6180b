package media

import "regexp"

const (
	directImageHost   = "https://lh3.googleusercontent.com/d/"
	directImageSuffix = "=w1600"
)

var (
	sharePathPattern  = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)
	shareQueryPattern = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
)

// DirectImageURL rewrites a recognized shareable-link URL into its
// direct-display form. URLs that already use the direct form, and URLs
// without a recognizable file identifier, are returned unchanged.
func DirectImageURL(rawURL string) string {
	fileID := extractPathID(rawURL)
	if fileID == "" {
		return rawURL
	}
	return directImageHost + fileID + directImageSuffix
}

// RecoverableFileID extracts the file identifier from either share-link
// form. It returns an empty string when the URL carries no identifier,
// meaning a failed image load has no retry form available.
func RecoverableFileID(rawURL string) string {
	if fileID := extractPathID(rawURL); fileID != "" {
		return fileID
	}
	if match := shareQueryPattern.FindStringSubmatch(rawURL); match != nil {
		return match[1]
	}
	return ""
}

// RetryImageURL returns the direct-display URL to retry after a load
// failure, or an empty string when the original URL is not recoverable.
func RetryImageURL(rawURL string) string {
	fileID := RecoverableFileID(rawURL)
	if fileID == "" {
		return ""
	}
	return directImageHost + fileID + directImageSuffix
}

func extractPathID(rawURL string) string {
	match := sharePathPattern.FindStringSubmatch(rawURL)
	if match == nil {
		return ""
	}
	return match[1]
}
