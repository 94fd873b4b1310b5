package otr4

import "testing"

func TestLoadPolicyYAMLOverridesDefaults(t *testing.T) {
	buf := []byte("allow_v3: false\nmax_fragment_size: 4000\n")
	p, err := LoadPolicyYAML(buf)
	if err != nil {
		t.Fatal(err)
	}
	if p.AllowV3 {
		t.Fatal("expected allow_v3 to be overridden to false")
	}
	if p.MaxFragmentSize != 4000 {
		t.Fatalf("expected max_fragment_size 4000, got %d", p.MaxFragmentSize)
	}
	// Fields absent from the document keep the default.
	if p.HeartbeatInterval != DefaultPolicy().HeartbeatInterval {
		t.Fatal("expected heartbeat_interval to keep its default")
	}
}

func TestLoadPolicyYAMLRejectsMalformed(t *testing.T) {
	if _, err := LoadPolicyYAML([]byte("not: [valid: yaml")); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestPolicyToYAMLRoundTrip(t *testing.T) {
	p := DefaultPolicy()
	p.AllowV3 = false
	buf, err := p.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	roundTripped, err := LoadPolicyYAML(buf)
	if err != nil {
		t.Fatal(err)
	}
	if roundTripped.AllowV3 != p.AllowV3 || roundTripped.MaxFragmentSize != p.MaxFragmentSize {
		t.Fatal("round trip through YAML lost data")
	}
}
