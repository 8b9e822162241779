package annotation

import "testing"

func TestDispatchRoutesGoToTreeSitterAnnotator(t *testing.T) {
	t.Parallel()
	d := NewDispatch()

	src := []byte("package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n\ntype Config struct {\n\tName string\n}\n")
	ann, err := d.Annotate("/src/main.go", src)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if ann.Language != "go" {
		t.Fatalf("language = %q, want go", ann.Language)
	}

	var sawFunc, sawStruct bool
	for _, s := range ann.Symbols {
		if s.Name == "Hello" && s.Kind == "function" {
			sawFunc = true
		}
		if s.Name == "Config" && s.Kind == "struct" {
			sawStruct = true
		}
	}
	if !sawFunc {
		t.Error("expected a function symbol named Hello")
	}
	if !sawStruct {
		t.Error("expected a struct symbol named Config")
	}
}

func TestDispatchFallsBackToNoOpForUnknownLanguage(t *testing.T) {
	t.Parallel()
	d := NewDispatch()

	ann, err := d.Annotate("/src/main.rb", []byte("def hello; end"))
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if len(ann.Symbols) != 0 {
		t.Errorf("symbols = %v, want none from the no-op annotator", ann.Symbols)
	}
}
