package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/common"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

func newTestLedger(t *testing.T) (*Ledger, storage.Store) {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, common.NewTestLogger(t)), store
}

func corroboratedFact(t *testing.T, l *Ledger, content string) *model.Fact {
	t.Helper()
	f, err := l.IngestFact(content, nil, model.SourceRecord{Domain: "a.example", RetrievedAt: time.Now()})
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if err := l.Corroborate(f.Hash, model.SourceRecord{Domain: "b.example", RetrievedAt: time.Now()}); err != nil {
		t.Fatalf("err: %s", err)
	}
	f, err = l.store.GetFactByHash(f.Hash)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	return f
}

func TestIngestAndCorroborate(t *testing.T) {
	assert := assert.New(t)
	l, _ := newTestLedger(t)

	f := corroboratedFact(t, l, "water boils at 100C at sea level")
	assert.True(f.Trusted())
	assert.Equal(2, f.Score)

	// Re-corroborating from the same domain is a no-op.
	assert.NoError(l.Corroborate(f.Hash, model.SourceRecord{Domain: "b.example"}))
	again, err := l.store.GetFactByHash(f.Hash)
	assert.NoError(err)
	assert.Equal(2, again.Score)
}

func TestDisputeMarksBothFacts(t *testing.T) {
	assert := assert.New(t)
	l, _ := newTestLedger(t)

	a := corroboratedFact(t, l, "the meeting was on Tuesday")
	b := corroboratedFact(t, l, "the meeting was on Wednesday")

	assert.NoError(l.Dispute(a.Hash, b.Hash))

	gotA, _ := l.store.GetFactByHash(a.Hash)
	gotB, _ := l.store.GetFactByHash(b.Hash)
	assert.True(gotA.Disputed)
	assert.True(gotB.Disputed)
	assert.False(gotA.Trusted())
}

func TestProposeBlockGenesis(t *testing.T) {
	assert := assert.New(t)
	l, _ := newTestLedger(t)

	corroboratedFact(t, l, "fact one")
	corroboratedFact(t, l, "fact two")

	b, err := l.ProposeBlock("validator-1")
	assert.NoError(err)
	assert.Equal(int64(0), b.Height)
	assert.Equal(axcrypto.ZeroHash, b.PreviousHash)
	assert.Len(b.FactHashes, 2)
}

func TestProposeBlockEmptyIsValid(t *testing.T) {
	assert := assert.New(t)
	l, _ := newTestLedger(t)

	b, err := l.ProposeBlock("validator-1")
	assert.NoError(err)
	assert.Len(b.FactHashes, 0)
}

func acceptAsIdentity(t *testing.T) (*axcrypto.Identity, string, []byte) {
	t.Helper()
	id, err := axcrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	fp, err := id.Fingerprint()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	pub, err := id.PublicKeyBytes()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	return id, fp, pub
}

func TestValidateAndCommitAcceptsSignedBlock(t *testing.T) {
	assert := assert.New(t)
	l, store := newTestLedger(t)

	id, fp, pub := acceptAsIdentity(t)
	assert.NoError(store.UpsertValidator(&model.ValidatorRecord{Fingerprint: fp, PublicKey: pub, Stake: 100}))

	b, err := l.ProposeBlock(fp)
	assert.NoError(err)
	assert.NoError(b.Sign(id))

	lookup := func(fingerprint string) (*model.ValidatorRecord, error) {
		return store.GetValidator(fingerprint)
	}
	leaderFor := func(previousHash string, height int64, slot int64) (string, error) { return fp, nil }
	fetch := func(ctx context.Context, hashes []string) ([]*model.Fact, error) { return nil, nil }

	outcome, err := l.ValidateAndCommit(context.Background(), b, lookup, leaderFor, fetch)
	assert.NoError(err)
	assert.Equal(Accepted, outcome)

	height, err := l.ChainHeight()
	assert.NoError(err)
	assert.Equal(int64(0), height)
}

func TestValidateAndCommitRejectsTamperedHash(t *testing.T) {
	assert := assert.New(t)
	l, store := newTestLedger(t)

	id, fp, pub := acceptAsIdentity(t)
	assert.NoError(store.UpsertValidator(&model.ValidatorRecord{Fingerprint: fp, PublicKey: pub, Stake: 100}))

	b, err := l.ProposeBlock(fp)
	assert.NoError(err)
	assert.NoError(b.Sign(id))
	b.Hash = "tampered"

	lookup := func(fingerprint string) (*model.ValidatorRecord, error) {
		return store.GetValidator(fingerprint)
	}
	leaderFor := func(previousHash string, height int64, slot int64) (string, error) { return fp, nil }
	fetch := func(ctx context.Context, hashes []string) ([]*model.Fact, error) { return nil, nil }

	outcome, err := l.ValidateAndCommit(context.Background(), b, lookup, leaderFor, fetch)
	assert.Error(err)
	assert.Equal(Rejected, outcome)
}

func TestValidateAndCommitRejectsOversizedBlock(t *testing.T) {
	assert := assert.New(t)
	l, store := newTestLedger(t)

	id, fp, pub := acceptAsIdentity(t)
	assert.NoError(store.UpsertValidator(&model.ValidatorRecord{Fingerprint: fp, PublicKey: pub, Stake: 100}))

	b, err := l.ProposeBlock(fp)
	assert.NoError(err)
	hashes := make([]string, 0, 513)
	for i := 0; i < 513; i++ {
		hashes = append(hashes, axcrypto.SHA256Hex([]byte{byte(i), byte(i >> 8)}))
	}
	model.SortFactHashes(hashes)
	b.FactHashes = hashes
	assert.NoError(b.Sign(id))

	lookup := func(fingerprint string) (*model.ValidatorRecord, error) {
		return store.GetValidator(fingerprint)
	}
	leaderFor := func(previousHash string, height int64, slot int64) (string, error) { return fp, nil }
	fetch := func(ctx context.Context, hashes []string) ([]*model.Fact, error) { return nil, nil }

	outcome, err := l.ValidateAndCommit(context.Background(), b, lookup, leaderFor, fetch)
	assert.Error(err)
	assert.Equal(Rejected, outcome)
}

func TestValidateAndCommitWrongLeaderRejected(t *testing.T) {
	assert := assert.New(t)
	l, store := newTestLedger(t)

	id, fp, pub := acceptAsIdentity(t)
	assert.NoError(store.UpsertValidator(&model.ValidatorRecord{Fingerprint: fp, PublicKey: pub, Stake: 100}))

	b, err := l.ProposeBlock(fp)
	assert.NoError(err)
	assert.NoError(b.Sign(id))

	lookup := func(fingerprint string) (*model.ValidatorRecord, error) {
		return store.GetValidator(fingerprint)
	}
	leaderFor := func(previousHash string, height int64, slot int64) (string, error) { return "someone-else", nil }
	fetch := func(ctx context.Context, hashes []string) ([]*model.Fact, error) { return nil, nil }

	outcome, err := l.ValidateAndCommit(context.Background(), b, lookup, leaderFor, fetch)
	assert.Error(err)
	assert.Equal(Rejected, outcome)
}
