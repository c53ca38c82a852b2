package main

import "testing"

func TestParseHeaderFlags(t *testing.T) {
	headers, err := parseHeaderFlags([]string{"Cookie: a=b; c=d", "authorization:Bearer x"})
	if err != nil {
		t.Fatal(err)
	}
	if headers["Cookie"] != "a=b; c=d" {
		t.Errorf("unexpected Cookie %v", headers["Cookie"])
	}
	if headers["authorization"] != "Bearer x" {
		t.Errorf("unexpected authorization %v", headers["authorization"])
	}
}

func TestParseHeaderFlags_Invalid(t *testing.T) {
	for _, v := range []string{"no-colon", ": value"} {
		if _, err := parseHeaderFlags([]string{v}); err == nil {
			t.Errorf("expected error for %q", v)
		}
	}
}
