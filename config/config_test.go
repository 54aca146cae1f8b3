package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iidesho/esbridge/result"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParse(t *testing.T) {
	c, err := Parse(lookup(map[string]string{
		EndpointKey:       "esdb://localhost:2113?tls=false",
		UsernameKey:       "admin",
		PasswordKey:       "changeit",
		RequireLeaderKey:  "true",
		FormatKey:         "yaml",
		MetadataFormatKey: "default",
		AwaitTimeoutKey:   "3s",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint != "esdb://localhost:2113?tls=false" || !c.RequireLeader || c.AwaitTimeout != 3*time.Second {
		t.Fatal("unexpected config", c)
	}
	d := c.Defaults()
	if d.Credentials == nil || d.Credentials.Login != "admin" || d.Credentials.Password != "changeit" {
		t.Fatal("credentials not carried", d.Credentials)
	}
	if d.Format != "yaml" || d.MetadataFormat != "default" {
		t.Fatal("formats not carried", d)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []map[string]string{
		{},
		{EndpointKey: "inmemory://x", RequireLeaderKey: "maybe"},
		{EndpointKey: "inmemory://x", AwaitTimeoutKey: "soon"},
		{EndpointKey: "inmemory://x", AwaitTimeoutKey: "-1s"},
	}
	for _, m := range cases {
		if _, err := Parse(lookup(m)); !errors.Is(err, result.ErrPreconditionViolation) {
			t.Error("accepted invalid config", m, err)
		}
	}
}

func TestNoCredentials(t *testing.T) {
	c, err := Parse(lookup(map[string]string{EndpointKey: "inmemory://x"}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Credentials() != nil {
		t.Fatal("credentials without a username")
	}
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.properties")
	err := os.WriteFile(file, []byte("eventstore.endpoint=inmemory://loaded\neventstore.await_timeout=250ms\n"), 0o600)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv(EndpointKey)
		os.Unsetenv(AwaitTimeoutKey)
	})
	c, err := Load(filepath.Join(t.TempDir(), "missing.properties"), file)
	if err != nil {
		t.Fatal(err)
	}
	if c.Endpoint != "inmemory://loaded" || c.AwaitTimeout != 250*time.Millisecond {
		t.Fatal("properties not loaded", c)
	}
}
