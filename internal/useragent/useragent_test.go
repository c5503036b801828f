package useragent

import "testing"

func TestIsBot(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      bool
	}{
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"crawler", "SomeCrawler/1.0", true},
		{"headless chrome", "Mozilla/5.0 HeadlessChrome/120.0", true},
		{"selenium", "selenium-webdriver", true},
		{"mixed case", "My-SCRAPER agent", true},
		{"regular chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsBot(tc.userAgent); got != tc.want {
				t.Fatalf("IsBot(%q) = %v, want %v", tc.userAgent, got, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      Info
	}{
		{
			name:      "windows chrome desktop",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want:      Info{DeviceType: DeviceDesktop, OperatingSystem: "Windows", Browser: "Chrome"},
		},
		{
			name:      "iphone safari mobile",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			want:      Info{DeviceType: DeviceMobile, OperatingSystem: "iOS", Browser: "Safari"},
		},
		{
			name:      "ipad tablet",
			userAgent: "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/604.1",
			want:      Info{DeviceType: DeviceTablet, OperatingSystem: "iOS", Browser: "Safari"},
		},
		{
			name:      "macos firefox",
			userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
			want:      Info{DeviceType: DeviceDesktop, OperatingSystem: "macOS", Browser: "Firefox"},
		},
		{
			name:      "android mobile edge",
			userAgent: "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36 EdgA/120.0 Edg/120.0",
			want:      Info{DeviceType: DeviceMobile, OperatingSystem: "Android", Browser: "Edge"},
		},
		{
			name:      "chromeos",
			userAgent: "Mozilla/5.0 (X11; CrOS x86_64 14541.0.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want:      Info{DeviceType: DeviceDesktop, OperatingSystem: "Chrome OS", Browser: "Chrome"},
		},
		{
			name:      "linux opera",
			userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 OPR/106.0",
			want:      Info{DeviceType: DeviceDesktop, OperatingSystem: "Linux", Browser: "Opera"},
		},
		{
			name:      "empty string",
			userAgent: "",
			want:      Info{DeviceType: DeviceDesktop, OperatingSystem: Unknown, Browser: Unknown},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Parse(tc.userAgent); got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.userAgent, got, tc.want)
			}
		})
	}
}
