package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/finops-claw-gang/costpipe/internal/connectors/mailrelay"
	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Response is one scripted outcome of a call.
type Response struct {
	Records []map[string]any
	Err     error
}

// ScriptedSource replays responses per subscription and dataset. Once a script
// runs out its last response repeats; pairs with no script return no records.
type ScriptedSource struct {
	mu      sync.Mutex
	scripts map[string][]Response
	calls   map[string]int
}

// NewScriptedSource creates an empty ScriptedSource.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{scripts: map[string][]Response{}, calls: map[string]int{}}
}

func pairKey(sub string, ds domain.Dataset) string { return sub + "/" + string(ds) }

// On scripts the responses for sub and ds.
func (s *ScriptedSource) On(sub string, ds domain.Dataset, responses ...Response) *ScriptedSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[pairKey(sub, ds)] = responses
	return s
}

// Calls returns how many times sub and ds were fetched.
func (s *ScriptedSource) Calls(sub string, ds domain.Dataset) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pairKey(sub, ds)]
}

func (s *ScriptedSource) Fetch(ctx context.Context, ds domain.Dataset, sub string, _ domain.DateRange) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(sub, ds)
	n := s.calls[k]
	s.calls[k] = n + 1
	script := s.scripts[k]
	if len(script) == 0 {
		return nil, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].Records, script[n].Err
}

// ScriptedModel is a language model returning canned completions in order.
type ScriptedModel struct {
	mu        sync.Mutex
	err       error
	texts     []string
	prompts   []string
	ModelName string
}

// NewScriptedModel returns a model that answers with texts in order, then
// repeats the last one.
func NewScriptedModel(texts ...string) *ScriptedModel {
	return &ScriptedModel{texts: texts, ModelName: "scripted"}
}

// FailWith makes every call fail with err.
func (m *ScriptedModel) FailWith(err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *ScriptedModel) Model() string { return m.ModelName }

func (m *ScriptedModel) Complete(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.prompts)
	m.prompts = append(m.prompts, system+"\n\n"+user)
	if m.err != nil {
		return "", m.err
	}
	if len(m.texts) == 0 {
		return "", nil
	}
	if n >= len(m.texts) {
		n = len(m.texts) - 1
	}
	return m.texts[n], nil
}

// Prompts returns every prompt sent, system and user joined.
func (m *ScriptedModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// CannedNarrative is a well-formed sectioned completion.
const CannedNarrative = `### SUMMARY
Spend was steady week over week.

### ANOMALIES
No material deviations from baseline.

### RECOMMENDATIONS
Rightsize the largest compute instances.

### FORECAST
Month-end spend is tracking to budget.`

// RecordingMailer records every message instead of sending it.
type RecordingMailer struct {
	mu       sync.Mutex
	messages []mailrelay.Message
	errs     []error
	calls    int
}

// FailWith scripts the errors of the next sends; nil entries succeed.
func (r *RecordingMailer) FailWith(errs ...error) *RecordingMailer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = errs
	return r
}

func (r *RecordingMailer) Send(ctx context.Context, msg mailrelay.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.calls
	r.calls++
	if n < len(r.errs) && r.errs[n] != nil {
		return "", r.errs[n]
	}
	r.messages = append(r.messages, msg)
	return fmt.Sprintf("msg-%d", len(r.messages)), nil
}

// Sent returns every delivered message.
func (r *RecordingMailer) Sent() []mailrelay.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mailrelay.Message(nil), r.messages...)
}

// Calls returns how many sends were attempted.
func (r *RecordingMailer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// MemoryArchive keeps archived reports in memory.
type MemoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	Err     error
}

func (a *MemoryArchive) PutReport(_ context.Context, weekKey, runID string, html []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return "", a.Err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	k := "reports/" + weekKey + "/" + runID + ".html"
	a.objects[k] = append([]byte(nil), html...)
	return k, nil
}

// Keys returns the stored object keys.
func (a *MemoryArchive) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []string
	for k := range a.objects {
		keys = append(keys, k)
	}
	return keys
}

// Object returns the stored body for key.
func (a *MemoryArchive) Object(key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.objects[key])
}
