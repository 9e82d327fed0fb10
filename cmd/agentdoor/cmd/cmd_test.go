package cmd

import (
	"testing"

	"github.com/alexedwards/argon2id"

	"github.com/agent-door/agentdoor/internal/adapter/inbound/gateway"
)

func TestRootCmd_SubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "version": false, "hash-key": false, "config-dump": false}
	for _, c := range rootCmd.Commands() {
		name := c.Name()
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered with rootCmd", name)
		}
	}
}

func TestHashKeyCmd_RequiresExactlyOneArg(t *testing.T) {
	if err := hashKeyCmd.Args(hashKeyCmd, nil); err == nil {
		t.Error("hash-key with no args should error")
	}
	if err := hashKeyCmd.Args(hashKeyCmd, []string{"a", "b"}); err == nil {
		t.Error("hash-key with two args should error")
	}
	if err := hashKeyCmd.Args(hashKeyCmd, []string{"only-one"}); err != nil {
		t.Errorf("hash-key with one arg should not error, got %v", err)
	}
}

func TestHashKeyCmd_RunEProducesNoError(t *testing.T) {
	if err := hashKeyCmd.RunE(hashKeyCmd, []string{"test-admin-key"}); err != nil {
		t.Fatalf("RunE returned error: %v", err)
	}
}

func TestVersionCmd_Registered(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Name() == "version" {
			found = true
		}
	}
	if !found {
		t.Error("version command not registered with rootCmd")
	}
}

func TestHashAdminKeyRoundTrip(t *testing.T) {
	// Exercises the same gateway.HashAdminKey the hash-key command calls,
	// confirming the produced hash verifies against the raw key.
	hash, err := gateway.HashAdminKey("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	match, err := argon2id.ComparePasswordAndHash("correct-horse-battery-staple", hash)
	if err != nil {
		t.Fatalf("compare error: %v", err)
	}
	if !match {
		t.Error("hash does not verify against the original key")
	}
}
