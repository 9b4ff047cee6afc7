package bytecode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestImageRoundTrip(t *testing.T) {
	prog := mustCompile(t, `fn square(n) { return n * n }
secure const label = "sq"
let i = 0
repeat 3 {
    i = i + 1
    print square(i)
}
print label
print 2.5`)

	data, err := MarshalImage(prog)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	loaded, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}

	if got, want := loaded.Disassemble(), prog.Disassemble(); got != want {
		t.Errorf("disassembly changed across round trip\ngot:\n%s\nwant:\n%s", got, want)
	}

	var out bytes.Buffer
	if err := NewVM(loaded, WithOutput(&out)).Run(); err != nil {
		t.Fatalf("running loaded image: %v", err)
	}
	if want := "1\n4\n9\nsq\n2.5\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestImageHashStable(t *testing.T) {
	src := "fn b() { return 2 }\nfn a() { return 1 }\nprint a() + b()"
	h1, err := mustCompile(t, src).Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := mustCompile(t, src).Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash differs between compilations: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex digits", len(h1))
	}

	h3, _ := mustCompile(t, "print 3").Hash()
	if h3 == h1 {
		t.Error("different programs share a hash")
	}
}

func TestUnmarshalImageRejects(t *testing.T) {
	notImage, _ := cbor.Marshal(map[string]int{"x": 1})

	badVersion, err := MarshalImage(&Program{Version: 99, Code: []Instruction{{Op: OpReturn}}})
	if err != nil {
		t.Fatal(err)
	}

	badTarget, err := MarshalImage(&Program{Version: BytecodeVersion, Code: []Instruction{{Op: OpJump, Arg: 7}}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}, "unmarshal image"},
		{"not an image", notImage, "not a Falcon image"},
		{"wrong version", badVersion, "bytecode version 99"},
		{"bad jump", badTarget, "jump target 7 out of range"},
	}

	for _, tc := range tests {
		_, err := UnmarshalImage(tc.data)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("%s: error = %q, want %q", tc.name, err.Error(), tc.msg)
		}
	}
}
