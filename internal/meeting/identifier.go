// File: internal/meeting/identifier.go
package meeting

import (
	"net/url"
	"regexp"
	"strings"
)

// Identifier is the parsed form of whatever the operator supplied as the
// meeting target: a numeric Zoom meeting, a Meet code URL, or free text that
// matched nothing.
type Identifier interface {
	Provider() Provider
	identifier()
}

// ZoomID is a numeric Zoom meeting, optionally with a passcode.
type ZoomID struct {
	ID       string
	Passcode string
}

func (ZoomID) Provider() Provider { return ProviderZoom }
func (ZoomID) identifier()        {}

// WebJoinURL is the browser join page for the meeting.
func (z ZoomID) WebJoinURL() string { return "https://zoom.us/wc/join/" + z.ID }

// MeetCode is a Google Meet meeting addressed by its code URL.
type MeetCode struct {
	URL  string
	Code string
}

func (MeetCode) Provider() Provider { return ProviderMeet }
func (MeetCode) identifier()        {}

// Unknown carries input that matched no known shape. Callers must reject it
// before attempting a join.
type Unknown struct {
	Raw string
}

func (Unknown) Provider() Provider { return ProviderZoom }
func (Unknown) identifier()        {}

var (
	digitRunRe = regexp.MustCompile(`\d{9,}`)
	allDigits  = regexp.MustCompile(`^\d+$`)
	pwdParamRe = regexp.MustCompile(`pwd=([^&\s]+)`)
)

// ParseIdentifier normalizes operator input into an Identifier. Recognized
// shapes, in order: a bare numeric meeting ID; a Meet code URL; a URL whose
// path carries the ID after a j, join, or wc segment; a URL with a confno
// query parameter; and finally the longest run of nine or more digits
// anywhere in the input. Anything else comes back as Unknown.
func ParseIdentifier(input string) Identifier {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Unknown{Raw: input}
	}
	if allDigits.MatchString(raw) {
		return ZoomID{ID: raw}
	}
	if strings.Contains(raw, "meet.google.com") {
		return parseMeet(raw)
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		if id := idFromURL(u); id != "" {
			return ZoomID{ID: id, Passcode: ExtractPasscode(raw)}
		}
	}
	if run := longestDigitRun(raw); run != "" {
		return ZoomID{ID: run, Passcode: ExtractPasscode(raw)}
	}
	return Unknown{Raw: raw}
}

// ExtractPasscode pulls a pwd= passcode out of a join URL. URL query parsing
// is tried first; a plain-text scan covers inputs that fail to parse.
func ExtractPasscode(raw string) string {
	if u, err := url.Parse(strings.TrimSpace(raw)); err == nil {
		if pwd := u.Query().Get("pwd"); pwd != "" {
			return pwd
		}
	}
	if m := pwdParamRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

func parseMeet(raw string) Identifier {
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return Unknown{Raw: raw}
	}
	code := strings.Trim(u.Path, "/")
	if code == "" {
		return Unknown{Raw: raw}
	}
	u.Scheme = "https"
	u.RawQuery = ""
	u.Fragment = ""
	return MeetCode{URL: u.String(), Code: code}
}

func idFromURL(u *url.URL) string {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		switch part {
		case "j", "join", "wc":
			if i+1 < len(parts) {
				next := parts[i+1]
				if next == "join" && i+2 < len(parts) {
					next = parts[i+2]
				}
				if allDigits.MatchString(next) {
					return next
				}
			}
		}
	}
	if confno := u.Query().Get("confno"); allDigits.MatchString(confno) {
		return confno
	}
	// Last path segment may itself be the bare ID.
	if n := len(parts); n > 0 && allDigits.MatchString(parts[n-1]) && len(parts[n-1]) >= 9 {
		return parts[n-1]
	}
	return ""
}

func longestDigitRun(raw string) string {
	best := ""
	for _, run := range digitRunRe.FindAllString(raw, -1) {
		if len(run) > len(best) {
			best = run
		}
	}
	return best
}
