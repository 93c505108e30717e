//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finsight-labs/filingrag/internal/api/handlers"
	"github.com/finsight-labs/filingrag/internal/chunker"
	"github.com/finsight-labs/filingrag/internal/edgar"
	"github.com/finsight-labs/filingrag/internal/index"
	"github.com/finsight-labs/filingrag/internal/openai"
	"github.com/finsight-labs/filingrag/internal/server"
	goopenai "github.com/sashabaranov/go-openai"
)

const embeddingDims = 8

// stubEmbeddingAPI derives deterministic vectors from input text so the
// whole stack runs without the real embeddings service.
type stubEmbeddingAPI struct {
	calls atomic.Int64
}

func (s *stubEmbeddingAPI) CreateEmbeddings(ctx context.Context, conv goopenai.EmbeddingRequestConverter) (goopenai.EmbeddingResponse, error) {
	s.calls.Add(1)

	req := conv.Convert()
	texts, ok := req.Input.([]string)
	if !ok {
		return goopenai.EmbeddingResponse{}, fmt.Errorf("unexpected input type %T", req.Input)
	}

	data := make([]goopenai.Embedding, len(texts))
	for i, text := range texts {
		data[i] = goopenai.Embedding{Index: i, Embedding: textVector(text)}
	}
	return goopenai.EmbeddingResponse{Data: data}, nil
}

func textVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, embeddingDims)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255.0
	}
	return vec
}

// filingFixture is a fake EDGAR with one AAPL 10-K whose body can be
// amended mid-test.
type filingFixture struct {
	mu           sync.Mutex
	riskFactors  string
	docDownloads atomic.Int64
}

func (f *filingFixture) setRiskFactors(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskFactors = text
}

func (f *filingFixture) filingHTML() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf(`<html><body>
<p>Item 1. Business</p>
<p>Apple designs smartphones, personal computers, tablets, wearables and accessories,
and sells a variety of related services across every major market worldwide.</p>
<p>Item 1A. Risk Factors</p>
<p>%s</p>
<p>Item 1B. Unresolved Staff Comments</p>
<p>None.</p>
</body></html>`, f.riskFactors)
}

const initialRiskFactors = `The company faces intense competition in every market it operates in,
with aggressive pricing from rivals placing sustained pressure on gross margins.

Global supply chains concentrate manufacturing in a small number of regions,
and any disruption there could materially reduce output for several quarters.

New regulation of digital marketplaces in several jurisdictions may require
changes to the company's products and reduce services revenue.`

// Env holds the in-process stack for one e2e test.
type Env struct {
	T          *testing.T
	Fixture    *filingFixture
	Embeddings *stubEmbeddingAPI
	ServerURL  string
	HTTPClient *http.Client
	APIKey     string
}

// APIResponse mirrors the server envelope.
type APIResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// SetupEnv builds the full pipeline against fake upstreams: a fake EDGAR,
// a stubbed embeddings API, the real chunker, a disk store, the index
// manager, and the HTTP router.
func SetupEnv(t *testing.T, apiKeys []string) *Env {
	t.Helper()

	fixture := &filingFixture{riskFactors: initialRiskFactors}

	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."}}`)
	})
	mux.HandleFunc("/submissions/CIK0000320193.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"cik": "320193",
			"name": "Apple Inc.",
			"filings": {"recent": {
				"accessionNumber": ["0000320193-24-000123"],
				"filingDate": ["2024-11-01"],
				"form": ["10-K"],
				"primaryDocument": ["aapl-20240928.htm"]
			}}
		}`)
	})
	mux.HandleFunc("/archives/320193/000032019324000123/aapl-20240928.htm", func(w http.ResponseWriter, r *http.Request) {
		fixture.docDownloads.Add(1)
		fmt.Fprint(w, fixture.filingHTML())
	})

	edgarSrv := httptest.NewServer(mux)
	t.Cleanup(edgarSrv.Close)

	edgarClient := edgar.NewClient(edgar.ClientConfig{
		UserAgent:      "filingrag-e2e/1.0 (test@example.com)",
		TickersURL:     edgarSrv.URL + "/files/company_tickers.json",
		SubmissionsURL: edgarSrv.URL + "/submissions",
		ArchivesURL:    edgarSrv.URL + "/archives",
		InitialBackoff: time.Millisecond,
	})

	splitter, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create chunker: %v", err)
	}

	embeddings := &stubEmbeddingAPI{}
	embedder := openai.NewClientWithConfig(openai.Config{
		APIKey:              "test",
		EmbeddingDimensions: embeddingDims,
		InitialBackoff:      time.Millisecond,
	}).WithAPI(embeddings)

	store, err := index.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create disk store: %v", err)
	}

	manager := index.NewManager(edgar.NewLocator(edgarClient), edgar.NewFetcher(edgarClient), splitter, embedder, store)

	router := server.NewRouter(server.RouterConfig{
		FilingHandler: handlers.NewFilingHandler(manager),
		APIKeys:       apiKeys,
	})

	apiSrv := httptest.NewServer(router)
	t.Cleanup(apiSrv.Close)

	var key string
	if len(apiKeys) > 0 {
		key = apiKeys[0]
	}

	return &Env{
		T:          t,
		Fixture:    fixture,
		Embeddings: embeddings,
		ServerURL:  apiSrv.URL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     key,
	}
}

// Post sends a JSON POST and decodes the envelope.
func (e *Env) Post(path string, body interface{}) (*APIResponse, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequest(http.MethodPost, e.ServerURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.send(req)
}

// Delete sends a DELETE request.
func (e *Env) Delete(path string) (*APIResponse, int, error) {
	req, err := http.NewRequest(http.MethodDelete, e.ServerURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	return e.send(req)
}

// Get sends a GET request.
func (e *Env) Get(path string) (*APIResponse, int, error) {
	req, err := http.NewRequest(http.MethodGet, e.ServerURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	return e.send(req)
}

func (e *Env) send(req *http.Request) (*APIResponse, int, error) {
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	apiResp := &APIResponse{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, apiResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("bad response body %q: %w", raw, err)
		}
	}
	return apiResp, resp.StatusCode, nil
}
