package resolver

import "testing"

func TestClassifyNoPrefix(t *testing.T) {
	if _, ok := Classify("hello there", []string{">", "!"}); ok {
		t.Fatal("expected no classification for unprefixed message")
	}
}

func TestClassifyBuiltinPriority(t *testing.T) {
	c, ok := Classify(">ping now please", []string{">"})
	if !ok {
		t.Fatal("expected match")
	}
	if c.Priority != PriorityBuiltin {
		t.Fatalf("priority = %v, want builtin", c.Priority)
	}
	if c.Command != "ping" || c.Args != "now please" {
		t.Fatalf("command/args = %q/%q", c.Command, c.Args)
	}
}

func TestClassifyCustomMarker(t *testing.T) {
	c, ok := Classify(">>greet bob", []string{">"})
	if !ok {
		t.Fatal("expected match")
	}
	if c.Priority != PriorityCustom || c.UnixStyle {
		t.Fatalf("priority = %v, unix = %v", c.Priority, c.UnixStyle)
	}
	if c.Content != "greet bob" {
		t.Fatalf("marker not stripped from content: %q", c.Content)
	}
	if c.Command != "greet" || c.Args != "bob" {
		t.Fatalf("command/args = %q/%q", c.Command, c.Args)
	}
}

func TestClassifyUnixMarker(t *testing.T) {
	c, ok := Classify(">./greet", []string{">"})
	if !ok {
		t.Fatal("expected match")
	}
	if c.Priority != PriorityCustom || !c.UnixStyle {
		t.Fatalf("priority = %v, unix = %v", c.Priority, c.UnixStyle)
	}
	if c.Command != "greet" || c.Args != "" {
		t.Fatalf("command/args = %q/%q", c.Command, c.Args)
	}
}

func TestClassifySplitsOnFirstWhitespaceRun(t *testing.T) {
	c, ok := Classify(">say   hello   world", []string{">"})
	if !ok {
		t.Fatal("expected match")
	}
	if c.Command != "say" {
		t.Fatalf("command = %q", c.Command)
	}
	if c.Args != "hello   world" {
		t.Fatalf("args = %q, inner spacing must be preserved", c.Args)
	}
}

func TestClassifyPrefixListOrder(t *testing.T) {
	// The mention form sorts ahead of the custom prefixes in the effective
	// list, so it must be matched even when a shorter prefix would also
	// match later in the list.
	c, ok := Classify("<@123> ping", []string{"<@!123> ", "<@123> ", "<", ">"})
	if !ok {
		t.Fatal("expected match")
	}
	if c.Prefix != "<@123> " {
		t.Fatalf("prefix = %q, want mention form", c.Prefix)
	}
	if c.Command != "ping" {
		t.Fatalf("command = %q", c.Command)
	}
}
