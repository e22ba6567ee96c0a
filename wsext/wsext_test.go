package wsext

import "testing"

func TestParseParamsBareToken(t *testing.T) {
	got, ok := ParseParams("message-prefix=p:")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got["message-prefix"] != "p:" {
		t.Fatalf("got %#v", got)
	}
}

func TestParseParamsQuoted(t *testing.T) {
	got, ok := ParseParams(`message-prefix="p:\"escaped\""`)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got["message-prefix"] != `p:"escaped"` {
		t.Fatalf("got %q", got["message-prefix"])
	}
}

func TestParseParamsMultipleAndBareFlag(t *testing.T) {
	got, ok := ParseParams("a=1;flag;b=2")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("got %#v", got)
	}
	if v, present := got["flag"]; !present || v != "" {
		t.Fatalf("expected empty-valued flag, got %#v present=%v", v, present)
	}
}

func TestParseParamsMalformedTrailingEquals(t *testing.T) {
	_, ok := ParseParams("a=")
	if ok {
		t.Fatalf("expected malformed")
	}
}

func TestParseParamsMalformedUnterminatedQuote(t *testing.T) {
	_, ok := ParseParams(`a="unterminated`)
	if ok {
		t.Fatalf("expected malformed")
	}
}

func TestParseParamsRoundTrip(t *testing.T) {
	got, ok := ParseParams("message-prefix=p:;other=x")
	if !ok {
		t.Fatalf("expected ok")
	}
	// Re-serialize with the same grammar and re-parse; the mapping must
	// be stable (spec.md §8 round-trip law).
	serialized := "message-prefix=" + got["message-prefix"] + ";other=" + got["other"]
	got2, ok2 := ParseParams(serialized)
	if !ok2 {
		t.Fatalf("expected ok on reparse")
	}
	if got["message-prefix"] != got2["message-prefix"] || got["other"] != got2["other"] {
		t.Fatalf("round trip mismatch: %#v vs %#v", got, got2)
	}
}

func TestFindGrip(t *testing.T) {
	exts := SplitHeaderValues([]string{"permessage-deflate", "grip; message-prefix=p:"})
	e := Find(exts, "grip")
	if e.IsNull() {
		t.Fatalf("expected grip extension")
	}
	if e.Params["message-prefix"] != "p:" {
		t.Fatalf("got %#v", e.Params)
	}
}

func TestFindAbsent(t *testing.T) {
	exts := SplitHeaderValues([]string{"permessage-deflate"})
	e := Find(exts, "grip")
	if !e.IsNull() {
		t.Fatalf("expected absent")
	}
}

func TestFindMalformedTreatedAsAbsent(t *testing.T) {
	exts := SplitHeaderValues([]string{"grip;a="})
	e := Find(exts, "grip")
	if !e.IsNull() {
		t.Fatalf("expected malformed extension to be treated as absent")
	}
}
