// File: internal/report/fuzz_test.go
//go:build go1.18
// +build go1.18

package report

import (
	"testing"

	fuzzheaders "github.com/AdaLogics/go-fuzz-headers"
)

// Fuzz_Parse must never panic on arbitrary executor output; garbage either
// yields an error or a structurally valid report.
func Fuzz_Parse(f *testing.F) {
	f.Add([]byte(`{"task_id":"x","goal":"g","actions":[],"observations":[],` +
		`"console_errors":[],"network_findings":[],"ui_findings":[],` +
		`"result":"partial","evidence_paths":[]}`))
	f.Add([]byte("no json at all"))
	f.Add([]byte(`{{{"result": 5}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		r, err := Parse(string(data))
		if err != nil {
			return
		}
		switch r.Result {
		case ResultSuccess, ResultPartial, ResultFailed:
		default:
			t.Fatalf("parsed report carries invalid result %q", r.Result)
		}
	})
}

// Fuzz_Normalize exercises the normalizer with structured garbage built by
// the consumer so slices and strings vary together.
func Fuzz_Normalize(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzzheaders.NewConsumer(data)
		r := New("fuzz", "fuzz goal")
		count, err := consumer.GetInt()
		if err != nil {
			return
		}
		for i := 0; i < count%8; i++ {
			entry, strErr := consumer.GetString()
			if strErr != nil {
				return
			}
			r.Actions = append(r.Actions, entry)
			r.EvidencePaths = append(r.EvidencePaths, entry)
		}

		normalizer := &Normalizer{RunDir: t.TempDir()}
		normalizer.Normalize(r)
		for _, action := range r.Actions {
			if len(action) < 6 || action[:5] != "cmd: " {
				t.Fatalf("malformed action survived normalization: %q", action)
			}
		}
	})
}
