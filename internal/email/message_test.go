package email

import "testing"

func TestCredentials_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		creds Credentials
		want  bool
	}{
		{name: "both set", creds: Credentials{EmailID: "me@example.com", AppPassword: "secret"}, want: true},
		{name: "missing email id", creds: Credentials{AppPassword: "secret"}, want: false},
		{name: "missing app password", creds: Credentials{EmailID: "me@example.com"}, want: false},
		{name: "both empty", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.creds.Complete(); got != tt.want {
				t.Errorf("Complete(): got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentials_StringRedactsPassword(t *testing.T) {
	t.Parallel()

	c := Credentials{EmailID: "me@example.com", AppPassword: "secret"}
	if got := c.String(); got != "me@example.com:****" {
		t.Errorf("String(): got %q, want %q", got, "me@example.com:****")
	}
}
