// Package audittest provides an in-memory auditor for assertions.
package audittest

import (
	"context"
	"sync"

	"github.com/researchspace/workbench/workbenchd/audit"
)

// Recorder captures every exported record.
type Recorder struct {
	mu   sync.Mutex
	logs []audit.Log
}

var _ audit.Auditor = (*Recorder)(nil)

func (r *Recorder) Export(_ context.Context, alog audit.Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, alog)
	return nil
}

// Logs returns a copy of the captured records.
func (r *Recorder) Logs() []audit.Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Log(nil), r.logs...)
}
