package notifier

import "testing"

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		wantInsecure bool
		wantErr      bool
	}{
		{"https public host", "https://example.com/hook", false, false},
		{"http public host is insecure", "http://example.com/hook", true, false},
		{"private address", "http://10.0.0.5/hook", false, true},
		{"localhost", "https://localhost/x", false, true},
		{"loopback ip", "https://127.0.0.1/hook", false, true},
		{"link local", "https://169.254.1.1/hook", false, true},
		{"unspecified", "https://0.0.0.0/hook", false, true},
		{"ipv6 loopback", "https://[::1]/hook", false, true},
		{"ftp scheme", "ftp://example.com/hook", false, true},
		{"no host", "https:///hook", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insecure, err := ValidateWebhookURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateWebhookURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err == nil && insecure != tt.wantInsecure {
				t.Errorf("ValidateWebhookURL(%q) insecure = %v, want %v", tt.url, insecure, tt.wantInsecure)
			}
		})
	}
}
