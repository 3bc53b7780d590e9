package platform

import (
	"fmt"
	"net/url"
	"strings"
)

// Well-known platform registry names.
const (
	NameMeet  = "meet"
	NameTeams = "teams"
	NameZoom  = "zoom"
)

// domainPlatforms maps meeting-URL host suffixes to platform names.
var domainPlatforms = map[string]string{
	"meet.google.com":     NameMeet,
	"teams.microsoft.com": NameTeams,
	"teams.live.com":      NameTeams,
	"zoom.us":             NameZoom,
	"zoom.com":            NameZoom,
}

// Detect resolves the platform name from a meeting URL's domain.
// An unrecognised domain fails synchronously, before any state mutation,
// with a [*PermanentError].
func Detect(meetingURL string) (string, error) {
	u, err := url.Parse(meetingURL)
	if err != nil {
		return "", &PermanentError{Reason: fmt.Sprintf("invalid meeting URL %q", meetingURL), Err: err}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &PermanentError{Reason: fmt.Sprintf("meeting URL %q has no host", meetingURL)}
	}
	for suffix, name := range domainPlatforms {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return name, nil
		}
	}
	return "", &PermanentError{Reason: fmt.Sprintf("unsupported meeting domain %q", host)}
}
