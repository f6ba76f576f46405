package config

import "testing"

func TestParseFilterUnknownToken(t *testing.T) {
	if _, err := ParseFilter("tls,bogus"); err == nil {
		t.Fatalf("expected an error for an unknown filter token")
	}
}

func TestParseFilterEmptyEnablesAll(t *testing.T) {
	f, err := ParseFilter("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Enabled("tls") || !f.Enabled("dns") {
		t.Fatalf("expected empty filter to enable every protocol")
	}
}

func TestParseFilterRestricts(t *testing.T) {
	f, err := ParseFilter("tls, http")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Enabled("tls") || !f.Enabled("http") {
		t.Fatalf("expected tls and http enabled")
	}
	if f.Enabled("dns") {
		t.Fatalf("expected dns to be disabled")
	}
}

func TestValidateRejectsAnalysisWithoutResources(t *testing.T) {
	c := Default()
	c.DoAnalysis = true
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsBadKeyLength(t *testing.T) {
	c := Default()
	c.KeyType = KeyAES256
	c.EncKey = []byte("too short")
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for short aes256 key")
	}
}

func TestValidateDefaultOK(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}
