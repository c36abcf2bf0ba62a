package postgres

import "testing"

func TestSetupDefaults(t *testing.T) {
	c := (&Config{Port: "not-a-port"}).Setup()
	if c.Port != "5432" {
		t.Errorf("invalid port should fall back to default, got %s", c.Port)
	}
	if c.Host != "localhost" || c.DBName != "trading_sim" || c.SSLMode != "disable" {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestStringPrefersDSN(t *testing.T) {
	c := &Config{DSN: "postgres://u:p@db/x", Host: "ignored"}
	if c.String() != "postgres://u:p@db/x" {
		t.Errorf("String() = %s", c.String())
	}
	if c.Redacted() != "dsn=<redacted>" {
		t.Errorf("Redacted() leaked the dsn: %s", c.Redacted())
	}
}

func TestRedactedHidesPassword(t *testing.T) {
	c := (&Config{Password: "secret"}).Setup()
	if got := c.Redacted(); got == "" || contains(got, "secret") {
		t.Errorf("Redacted() = %q", got)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
