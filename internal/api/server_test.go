package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/common"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/ledger"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

type fakePeerSource struct {
	count int
	peers []*model.PeerRecord
}

func (f *fakePeerSource) PeerCount() int { return f.count }

func (f *fakePeerSource) Peers() ([]*model.PeerRecord, error) { return f.peers, nil }

func (f *fakePeerSource) AnnounceValidator(v *model.ValidatorRecord) error { return nil }

type fakeProposer struct {
	called bool
	err    error
}

func (f *fakeProposer) ForcePropose() error {
	f.called = true
	return f.err
}

func newTestServer(t *testing.T, debug bool) (*Server, storage.Store, *axcrypto.Identity, *fakeProposer) {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	t.Cleanup(func() { store.Close() })

	id, err := axcrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	cfg := config.NewDefaultConfig()
	cfg.Debug = debug
	lg := ledger.New(store, common.NewTestLogger(t))
	proposer := &fakeProposer{}
	srv := New(cfg, store, lg, id, &fakePeerSource{}, proposer, common.NewTestLogger(t))
	return srv, store, id, proposer
}

func (s *Server) testRouter() http.Handler {
	return s.httpServer.Handler
}

func TestHandleStatusReportsChainHeight(t *testing.T) {
	assert := assert.New(t)
	srv, store, _, _ := newTestServer(t, false)

	if err := store.AppendBlock(model.NewGenesisBlock()); err != nil {
		t.Fatalf("err: %s", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.testRouter().ServeHTTP(rec, req)

	assert.Equal(http.StatusOK, rec.Code)
	var resp statusResponse
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(int64(0), resp.ChainHeight)
}

func TestHandleChainHeightEmptyChain(t *testing.T) {
	assert := assert.New(t)
	srv, _, _, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/get_chain_height", nil)
	rec := httptest.NewRecorder()
	srv.testRouter().ServeHTTP(rec, req)

	assert.Equal(http.StatusOK, rec.Code)
	var body map[string]interface{}
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(float64(-1), body["height"])
}

func TestHandleValidatorStakeRoundTrips(t *testing.T) {
	assert := assert.New(t)
	srv, _, _, _ := newTestServer(t, false)

	reqBody, _ := json.Marshal(stakeRequest{StakeAmount: 250})
	req := httptest.NewRequest(http.MethodPost, "/validator/stake", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	srv.testRouter().ServeHTTP(rec, req)

	assert.Equal(http.StatusOK, rec.Code)
	var body map[string]interface{}
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(float64(250), body["total_stake"])
}

func TestHandleGetFactsByIDReturnsKnownFacts(t *testing.T) {
	assert := assert.New(t)
	srv, _, _, _ := newTestServer(t, false)

	f, err := srv.ledger.IngestFact("water boils at 100C", nil, model.SourceRecord{Domain: "a.test"})
	assert.NoError(err)

	reqBody, _ := json.Marshal(getFactsByIDRequest{FactIDs: []int64{f.ID, 9999}})
	req := httptest.NewRequest(http.MethodPost, "/get_facts_by_id", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	srv.testRouter().ServeHTTP(rec, req)

	assert.Equal(http.StatusOK, rec.Code)
	var body map[string]interface{}
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	facts := body["facts"].([]interface{})
	assert.Len(facts, 1)
}

func TestHandleDebugProposeBlockDisabledByDefault(t *testing.T) {
	assert := assert.New(t)
	srv, _, _, proposer := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/debug/propose_block", nil)
	rec := httptest.NewRecorder()
	srv.testRouter().ServeHTTP(rec, req)

	assert.Equal(http.StatusNotFound, rec.Code)
	assert.False(proposer.called)
}

func TestHandleDebugProposeBlockEnabled(t *testing.T) {
	assert := assert.New(t)
	srv, _, _, proposer := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodPost, "/debug/propose_block", nil)
	rec := httptest.NewRecorder()
	srv.testRouter().ServeHTTP(rec, req)

	assert.Equal(http.StatusOK, rec.Code)
	assert.True(proposer.called)
}

func TestHandleChatReturnsNotFound(t *testing.T) {
	assert := assert.New(t)
	srv, _, _, _ := newTestServer(t, false)

	reqBody, _ := json.Marshal(map[string]string{"query": "anything"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	srv.testRouter().ServeHTTP(rec, req)

	assert.Equal(http.StatusNotFound, rec.Code)
}
