// Package useragent classifies raw User-Agent strings with a small keyword
// table. It is deliberately coarse: the dashboard groups visitors into a
// handful of device/OS/browser families and anything else reads "Unknown".
package useragent

import "strings"

// Unknown is the sentinel for an unclassified dimension value.
const Unknown = "Unknown"

// Device types.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// Info holds the classification of one user agent.
type Info struct {
	DeviceType      string
	OperatingSystem string
	Browser         string
}

var botMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"headless",
	"phantom",
	"selenium",
}

// IsBot reports whether the user agent looks like automated traffic.
func IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Parse extracts device type, operating system and browser.
func Parse(userAgent string) Info {
	ua := strings.ToLower(userAgent)
	return Info{
		DeviceType:      deviceType(ua),
		OperatingSystem: operatingSystem(ua),
		Browser:         browser(ua),
	}
}

func deviceType(ua string) string {
	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return DeviceTablet
	case strings.Contains(ua, "mobile"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

func operatingSystem(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	// iPhone UAs carry "like Mac OS X", so the iOS check must run first.
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		return "iOS"
	case strings.Contains(ua, "mac os x") || strings.Contains(ua, "macos"):
		return "macOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "cros"):
		return "Chrome OS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return Unknown
	}
}

func browser(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera/"):
		return "Opera"
	case strings.Contains(ua, "chrome/"):
		return "Chrome"
	case strings.Contains(ua, "firefox/"):
		return "Firefox"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	default:
		return Unknown
	}
}
