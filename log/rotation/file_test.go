package rotation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRotate(t *testing.T) {
	base := filepath.Join(t.TempDir(), "tokenctl.log")
	f := Create(base, 10, 2)
	defer f.Close()

	writes := []string{"aaaaaa\n", "bbbbbb\n", "cccccc\n", "dddddd\n"}
	for _, w := range writes {
		if _, err := f.Write([]byte(w)); err != nil {
			t.Fatal(err)
		}
	}

	want := map[string]string{
		base:        "dddddd\n",
		base + ".1": "cccccc\n",
		base + ".2": "bbbbbb\n",
	}
	for name, w := range want {
		got, err := os.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != w {
			t.Errorf("%s = %q want %q", filepath.Base(name), got, w)
		}
	}
	if _, err := os.Stat(base + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected no third rotation file, stat err = %v", err)
	}
}

func TestPartialLine(t *testing.T) {
	base := filepath.Join(t.TempDir(), "partial.log")
	f := Create(base, 100, 1)
	defer f.Close()

	f.Write([]byte("no newline yet"))
	if _, err := os.Stat(base); !os.IsNotExist(err) {
		t.Fatalf("partial line should not create the file, stat err = %v", err)
	}
	f.Write([]byte(" done\n"))
	got, err := os.ReadFile(base)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "no newline yet done\n" {
		t.Errorf("got %q", got)
	}
}
