package deploy

import (
	"errors"
	"strings"
	"testing"
)

func TestWorkerValidate(t *testing.T) {
	valid := Worker{ID: "bot-1", Runtime: "node", Source: "x"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cases := map[string]Worker{
		"bad id":       {ID: "a/b", Runtime: "node", Source: "x"},
		"no runtime":   {ID: "w", Source: "x"},
		"no source":    {ID: "w", Runtime: "node"},
		"both sources": {ID: "w", Runtime: "node", Source: "x", SourceURL: "github:a/b"},
		"newline env":  {ID: "w", Runtime: "node", Source: "x", Env: map[string]string{"K": "a\nb"}},
	}
	for name, w := range cases {
		if err := w.Validate(); !errors.Is(err, ErrInvalidWorker) {
			t.Errorf("%s: err = %v, want ErrInvalidWorker", name, err)
		}
	}
}

func TestMergeEnv_LaterWins(t *testing.T) {
	got := MergeEnv([]string{"PATH=/bin", "HOME=/root"},
		map[string]string{"PYTHONPATH": ".packages"},
		map[string]string{"HOME": "/srv", "TOKEN": "t"})

	want := "PATH=/bin,HOME=/srv,PYTHONPATH=.packages,TOKEN=t"
	if strings.Join(got, ",") != want {
		t.Errorf("MergeEnv = %v, want %s", got, want)
	}
}

func TestRuntimesMerge(t *testing.T) {
	base := DefaultRuntimes()
	merged := base.Merge(Runtime{Name: "node", Command: []string{"bun"}, DefaultEntry: "index.ts"})

	if merged["node"].Command[0] != "bun" {
		t.Errorf("node command = %v, want override", merged["node"].Command)
	}
	if base["node"].Command[0] != "node" {
		t.Error("Merge must not mutate the receiver")
	}
	if _, err := merged.Lookup("python"); err != nil {
		t.Errorf("python lost in merge: %v", err)
	}
}

func TestRuntimesLookup_NoCommand(t *testing.T) {
	r := Runtimes{"empty": {Name: "empty"}}
	if _, err := r.Lookup("empty"); !errors.Is(err, ErrInvalidWorker) {
		t.Errorf("err = %v, want ErrInvalidWorker", err)
	}
}
