package driver

import (
	"context"
	"sync"
)

// MockCall records one statement seen by MockGraph.
type MockCall struct {
	Query  string
	Params map[string]any
	Write  bool
}

// MockGraph answers queries by exact query text. Unknown queries return no rows.
type MockGraph struct {
	mu sync.Mutex

	Results  map[string][]Record
	Errors   map[string]error
	Handlers map[string]func(params map[string]any) ([]Record, error)
	// TxErr fails ExecuteWrite before the work function runs.
	TxErr error

	Calls []MockCall
}

func NewMockGraph() *MockGraph {
	return &MockGraph{
		Results:  map[string][]Record{},
		Errors:   map[string]error{},
		Handlers: map[string]func(params map[string]any) ([]Record, error){},
	}
}

func (m *MockGraph) RunQuery(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return m.run(query, params, false)
}

func (m *MockGraph) RunWriteQuery(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return m.run(query, params, true)
}

func (m *MockGraph) ExecuteWrite(ctx context.Context, work func(tx Tx) error) error {
	if m.TxErr != nil {
		return m.TxErr
	}
	return work(mockTx{graph: m})
}

func (m *MockGraph) BuildIndices(ctx context.Context) error {
	return nil
}

func (m *MockGraph) Close(ctx context.Context) error {
	return nil
}

// CallsFor returns the recorded calls for one query text.
func (m *MockGraph) CallsFor(query string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Query == query {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockGraph) WriteCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Write {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockGraph) run(query string, params map[string]any, write bool) ([]Record, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Query: query, Params: params, Write: write})
	handler := m.Handlers[query]
	err := m.Errors[query]
	rows := m.Results[query]
	m.mu.Unlock()

	if handler != nil {
		return handler(params)
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type mockTx struct {
	graph *MockGraph
}

func (t mockTx) Run(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	return t.graph.run(query, params, true)
}
