package schemas

import (
	"encoding/json"
	"io/fs"
	"testing"
)

func TestCompile_AllEmbedded(t *testing.T) {
	names, err := fs.Glob(FS, "*.schema.json")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("no schemas embedded")
	}
	for _, name := range names {
		if _, err := Compile(name); err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
	}
}

func TestDecode_ValidatesAgainstSchema(t *testing.T) {
	s := MustCompile("hello.schema.json")

	doc, err := Decode([]byte(`{"type":"HELLO","protocol_version":"1.0","client_name":"bot","capabilities":{"max_queue":64}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		t.Fatalf("validate: %v", err)
	}
	caps := doc.(map[string]any)["capabilities"].(map[string]any)
	if _, ok := caps["max_queue"].(json.Number); !ok {
		t.Fatalf("max_queue decoded as %T, want json.Number", caps["max_queue"])
	}

	doc, err = Decode([]byte(`{"type":"HELLO","protocol_version":"1.0","client_name":"bot","capabilities":{"max_queue":1000}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := s.Validate(doc); err == nil {
		t.Fatalf("expected max_queue above 256 to fail")
	}
}

func TestDecode_RejectsMalformed(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":1} {"b":2}`, `[1,]`} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
