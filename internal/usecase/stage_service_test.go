package usecase

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
	"stamp-cli/internal/identity"
)

var testKDF = crypto.KDFParams{Time: 1, MemoryKB: 64, Threads: 1}

const testPassphrase = "correct horse battery staple"

// mockStagedRepository はテスト用のモック。
type mockStagedRepository struct {
	items     map[domain.TransactionID]*domain.StagedTransaction
	putErr    error
	deleteErr error
}

func newMockStagedRepository() *mockStagedRepository {
	return &mockStagedRepository{items: make(map[domain.TransactionID]*domain.StagedTransaction)}
}

func (m *mockStagedRepository) Put(ctx context.Context, identityID domain.IdentityID, tx *domain.Transaction) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.items[tx.ID] = &domain.StagedTransaction{ID: tx.ID, IdentityID: identityID, Transaction: tx.Clone()}
	return nil
}

func (m *mockStagedRepository) FindByID(ctx context.Context, id domain.TransactionID) (*domain.StagedTransaction, error) {
	st, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return m.copyOf(st), nil
}

func (m *mockStagedRepository) FindByPrefix(ctx context.Context, prefix string) ([]*domain.StagedTransaction, error) {
	if prefix == "" {
		return nil, nil
	}
	var result []*domain.StagedTransaction
	for id, st := range m.items {
		if strings.HasPrefix(string(id), prefix) {
			result = append(result, m.copyOf(st))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockStagedRepository) FindAllByIdentityID(ctx context.Context, identityID domain.IdentityID) ([]*domain.StagedTransaction, error) {
	var result []*domain.StagedTransaction
	for _, st := range m.items {
		if st.IdentityID == identityID {
			result = append(result, m.copyOf(st))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockStagedRepository) Delete(ctx context.Context, id domain.TransactionID) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.items, id)
	return nil
}

func (m *mockStagedRepository) copyOf(st *domain.StagedTransaction) *domain.StagedTransaction {
	c := *st
	c.Transaction = st.Transaction.Clone()
	return &c
}

// mockIdentityRepository はテスト用のモック。
type mockIdentityRepository struct {
	logs    map[domain.IdentityID]*domain.TransactionLog
	saveErr error
	saves   int
}

func newMockIdentityRepository() *mockIdentityRepository {
	return &mockIdentityRepository{logs: make(map[domain.IdentityID]*domain.TransactionLog)}
}

func (m *mockIdentityRepository) Save(ctx context.Context, log *domain.TransactionLog) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.logs[log.IdentityID] = cloneLog(log)
	return nil
}

func (m *mockIdentityRepository) FindByID(ctx context.Context, id domain.IdentityID) (*domain.TransactionLog, error) {
	log, ok := m.logs[id]
	if !ok {
		return nil, nil
	}
	return cloneLog(log), nil
}

func (m *mockIdentityRepository) FindByPrefix(ctx context.Context, prefix string) ([]*domain.TransactionLog, error) {
	var result []*domain.TransactionLog
	for id, log := range m.logs {
		if strings.HasPrefix(string(id), prefix) {
			result = append(result, cloneLog(log))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IdentityID < result[j].IdentityID })
	return result, nil
}

func (m *mockIdentityRepository) FindAll(ctx context.Context) ([]*domain.TransactionLog, error) {
	return m.FindByPrefix(ctx, "")
}

func cloneLog(log *domain.TransactionLog) *domain.TransactionLog {
	c := &domain.TransactionLog{IdentityID: log.IdentityID, Transactions: make([]domain.Transaction, len(log.Transactions))}
	for i := range log.Transactions {
		c.Transactions[i] = *log.Transactions[i].Clone()
	}
	return c
}

// mockConfirmer はテスト用のモック。
type mockConfirmer struct {
	answer bool
	err    error
	asked  int
}

func (m *mockConfirmer) Confirm(ctx context.Context, message string) (bool, error) {
	m.asked++
	return m.answer, m.err
}

// countingUnlocker は呼び出し回数を数える Unlocker。
type countingUnlocker struct {
	inner Unlocker
	calls int
}

func (u *countingUnlocker) Unlock(ctx context.Context, ident *domain.Identity) (*crypto.MasterKey, error) {
	u.calls++
	return u.inner.Unlock(ctx, ident)
}

type testEnv struct {
	staged     *mockStagedRepository
	identities *mockIdentityRepository
	engine     *identity.Engine
	stages     *StageService
	ids        *IdentityService
	recovery   *RecoveryService
	unlocker   *PassphraseUnlocker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		staged:     newMockStagedRepository(),
		identities: newMockIdentityRepository(),
		engine:     identity.NewEngine(),
		unlocker:   NewPassphraseUnlocker(StaticPassphrase(testPassphrase), testKDF),
	}
	resolver := NewKeyResolver(nil)
	env.stages = NewStageService(env.staged, env.identities, env.engine, resolver, testKDF)
	env.ids = NewIdentityService(env.identities, env.engine, env.engine, env.stages, resolver, testKDF)
	env.recovery = NewRecoveryService(env.identities, env.engine, testKDF)
	return env
}

func (e *testEnv) createIdentity(t *testing.T) *domain.Identity {
	t.Helper()
	ident, err := e.ids.Create(context.Background(), StaticPassphrase(testPassphrase))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return ident
}

func (e *testEnv) current(t *testing.T, id domain.IdentityID) *domain.Identity {
	t.Helper()
	ident, err := e.ids.Resolve(context.Background(), string(id))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return ident
}

// twoAdmins は admin-a と admin-b の2署名を要求するポリシーを持つアイデンティティを作る。
func (e *testEnv) twoAdmins(t *testing.T) *domain.Identity {
	t.Helper()
	ctx := context.Background()
	ident := e.createIdentity(t)
	root := Proposal{SignWith: identity.RootKeyName}
	for _, name := range []string{"admin-a", "admin-b"} {
		if _, err := e.ids.AddKey(ctx, ident.ID, domain.CapabilityPolicy, name, "", e.unlocker, root); err != nil {
			t.Fatalf("AddKey %s failed: %v", name, err)
		}
	}
	policy := domain.Policy{Name: "admins", Threshold: 2}
	if _, err := e.ids.SetPolicy(ctx, ident.ID, policy, []string{"admin-a", "admin-b"}, e.unlocker, root); err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}
	return e.current(t, ident.ID)
}

func (e *testEnv) stageClaim(t *testing.T, id domain.IdentityID, private bool) domain.TransactionID {
	t.Helper()
	result, err := e.ids.MakeClaim(context.Background(), id, "email", "me@example.com", private, e.unlocker, Proposal{Stage: true, SignWith: "admin-a"})
	if err != nil {
		t.Fatalf("MakeClaim failed: %v", err)
	}
	if !result.Staged {
		t.Fatal("want claim staged")
	}
	return result.ID
}

func TestStageService_SignThenApply(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)

	list, err := env.stages.List(ctx, ident.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("want 1 staged transaction, got %d", len(list))
	}
	if list[0].Ready {
		t.Error("want not ready with one signature")
	}
	if list[0].Signatures != 1 {
		t.Errorf("want 1 signature, got %d", list[0].Signatures)
	}

	if _, err := env.stages.Apply(ctx, string(txID)); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("want ErrNotReady, got %v", err)
	}

	signed, err := env.stages.Sign(ctx, string(txID), "admin-b", env.unlocker)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !signed.Ready {
		t.Error("want ready after second signature")
	}
	if signed.Signatures != 2 {
		t.Errorf("want 2 signatures, got %d", signed.Signatures)
	}
	if signed.KeyName != "admin-b" {
		t.Errorf("want signed with admin-b, got %s", signed.KeyName)
	}

	result, err := env.stages.Apply(ctx, string(txID)[:12])
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.ID != txID {
		t.Errorf("want applied %s, got %s", txID, result.ID)
	}
	if result.CleanupErr != nil {
		t.Errorf("want no cleanup error, got %v", result.CleanupErr)
	}
	if _, ok := env.staged.items[txID]; ok {
		t.Error("want staged copy removed after apply")
	}

	after := env.current(t, ident.ID)
	if len(after.Claims) != 1 || after.Claims[0].ID != txID {
		t.Fatalf("want claim %s in identity, got %+v", txID, after.Claims)
	}
}

func TestStageService_Apply_CleanupFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.createIdentity(t)

	result, err := env.ids.MakeClaim(ctx, ident.ID, "name", "Alice", false, env.unlocker, Proposal{Stage: true, SignWith: identity.RootKeyName})
	if err != nil {
		t.Fatalf("MakeClaim failed: %v", err)
	}
	if !result.Ready {
		t.Fatal("want ready with root signature")
	}

	env.staged.deleteErr = errors.New("disk full")
	applied, err := env.stages.Apply(ctx, string(result.ID))
	if err != nil {
		t.Fatalf("want cleanup failure to be non-fatal, got %v", err)
	}
	if applied.CleanupErr == nil {
		t.Fatal("want cleanup error reported")
	}
	want := "stamp stage delete " + string(result.ID)
	if applied.CleanupCommand != want {
		t.Errorf("want cleanup command %q, got %q", want, applied.CleanupCommand)
	}
	if len(env.current(t, ident.ID).Claims) != 1 {
		t.Error("want claim applied despite cleanup failure")
	}

	// 残ったステージ済みコピーは適用可能と表示されず、二重にも適用されない
	list, err := env.stages.List(ctx, ident.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].Ready {
		t.Errorf("want leftover copy listed as not ready, got %+v", list)
	}
	if _, err := env.stages.Apply(ctx, string(result.ID)); !errors.Is(err, domain.ErrAlreadyApplied) {
		t.Fatalf("want ErrAlreadyApplied, got %v", err)
	}
	if len(env.current(t, ident.ID).Claims) != 1 {
		t.Error("want exactly one claim")
	}
}

func TestStageService_Apply_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.createIdentity(t)

	_, err := env.stages.Apply(context.Background(), "nope")
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("want ErrTransactionNotFound, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestStageService_Stage_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)

	st, err := env.stages.View(ctx, string(txID))
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.stages.Stage(ctx, ident.ID, st.Transaction); err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
	}
	if len(env.staged.items) != 1 {
		t.Errorf("want 1 staged entry, got %d", len(env.staged.items))
	}
}

func TestStageService_Stage_WrongIdentity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)
	st, err := env.stages.View(ctx, string(txID))
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	if _, err := env.stages.Stage(ctx, "someone-else", st.Transaction); !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Fatalf("want ErrInvalidTransaction, got %v", err)
	}
}

func TestStageService_Ready(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)

	st, err := env.stages.View(ctx, string(txID))
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	ready, err := env.stages.Ready(ctx, st)
	if ready {
		t.Error("want not ready")
	}
	if !errors.Is(err, domain.ErrPolicyUnsatisfied) {
		t.Errorf("want ErrPolicyUnsatisfied reason, got %v", err)
	}
}

func TestStageService_Ready_RejectedByHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.createIdentity(t)

	staged := Proposal{Stage: true, SignWith: identity.RootKeyName}
	first, err := env.ids.AddKey(ctx, ident.ID, domain.CapabilitySign, "dup", "", env.unlocker, staged)
	if err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}
	second, err := env.ids.AddKey(ctx, ident.ID, domain.CapabilitySign, "dup", "", env.unlocker, staged)
	if err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}
	if !first.Ready || !second.Ready {
		t.Fatalf("want both ready before either is applied, got %v and %v", first.Ready, second.Ready)
	}

	if _, err := env.stages.Apply(ctx, string(first.ID)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	list, err := env.stages.List(ctx, ident.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != second.ID {
		t.Fatalf("want only %s staged, got %+v", second.ID, list)
	}
	if list[0].Ready {
		t.Error("want duplicate key name not ready")
	}

	st, err := env.stages.View(ctx, string(second.ID))
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	ready, reason := env.stages.Ready(ctx, st)
	if ready || !errors.Is(reason, domain.ErrDuplicateKeyName) {
		t.Errorf("want not ready with ErrDuplicateKeyName, got %v, %v", ready, reason)
	}
	if _, err := env.stages.Apply(ctx, string(second.ID)); !errors.Is(err, domain.ErrDuplicateKeyName) {
		t.Fatalf("want ErrDuplicateKeyName, got %v", err)
	}
}

// threeAdmins は admin-a, admin-b, admin-c のうち2署名を要求するポリシーを持つアイデンティティを作る。
func (e *testEnv) threeAdmins(t *testing.T) *domain.Identity {
	t.Helper()
	ctx := context.Background()
	ident := e.createIdentity(t)
	root := Proposal{SignWith: identity.RootKeyName}
	names := []string{"admin-a", "admin-b", "admin-c"}
	for _, name := range names {
		if _, err := e.ids.AddKey(ctx, ident.ID, domain.CapabilityPolicy, name, "", e.unlocker, root); err != nil {
			t.Fatalf("AddKey %s failed: %v", name, err)
		}
	}
	policy := domain.Policy{Name: "admins", Threshold: 2}
	if _, err := e.ids.SetPolicy(ctx, ident.ID, policy, names, e.unlocker, root); err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}
	return e.current(t, ident.ID)
}

func TestStageService_Sign_AccumulatesSignatures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.threeAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)

	var signers []domain.KeyID
	keyA, _ := ident.KeyByName("admin-a")
	signers = append(signers, keyA.ID)

	for _, name := range []string{"admin-b", "admin-c"} {
		result, err := env.stages.Sign(ctx, string(txID), name, env.unlocker)
		if err != nil {
			t.Fatalf("Sign %s failed: %v", name, err)
		}
		if !result.Ready {
			t.Errorf("after %s: want ready at or past the threshold", name)
		}
		signers = append(signers, result.SignedWith)

		st, err := env.stages.View(ctx, string(txID))
		if err != nil {
			t.Fatalf("View failed: %v", err)
		}
		for _, k := range signers {
			if !st.Transaction.SignedBy(k) {
				t.Errorf("after %s: want signature from %s kept", name, k)
			}
		}
		if len(st.Transaction.Signatures) != len(signers) {
			t.Errorf("after %s: want %d signatures, got %d", name, len(signers), len(st.Transaction.Signatures))
		}
	}

	list, err := env.stages.List(ctx, ident.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || !list[0].Ready {
		t.Errorf("want ready past the threshold, got %+v", list)
	}
	if _, err := env.stages.Apply(ctx, string(txID)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
}

func TestStageService_Sign_IncorrectPassphrase(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)

	wrong := NewPassphraseUnlocker(StaticPassphrase("wrong"), testKDF)
	if _, err := env.stages.Sign(ctx, string(txID), "admin-b", wrong); !errors.Is(err, domain.ErrIncorrectCredential) {
		t.Fatalf("want ErrIncorrectCredential, got %v", err)
	}
	if got := len(env.staged.items[txID].Transaction.Signatures); got != 1 {
		t.Errorf("want staged copy unchanged with 1 signature, got %d", got)
	}
}

func TestStageService_Sign_NonSigningKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.createIdentity(t)
	root := Proposal{SignWith: identity.RootKeyName}
	if _, err := env.ids.AddKey(ctx, ident.ID, domain.CapabilitySecret, "vault", "", env.unlocker, root); err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}
	staged, err := env.ids.MakeClaim(ctx, ident.ID, "name", "Alice", false, env.unlocker, Proposal{Stage: true, SignWith: identity.RootKeyName})
	if err != nil {
		t.Fatalf("MakeClaim failed: %v", err)
	}

	// 名前の完全一致はフィルタを通らないため、署名時に能力不足として拒否される
	if _, err := env.stages.Sign(ctx, string(staged.ID), "vault", env.unlocker); !errors.Is(err, domain.ErrNoCapableKey) {
		t.Fatalf("want ErrNoCapableKey, got %v", err)
	}
	if _, err := env.stages.Sign(ctx, string(staged.ID), "zzz-no-such-key", env.unlocker); !errors.Is(err, domain.ErrNoMatch) {
		t.Fatalf("want ErrNoMatch, got %v", err)
	}
}

func TestStageService_Delete(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		confirmer   Confirmer
		force       bool
		wantErr     error
		wantDeleted bool
	}{
		{name: "confirmed", confirmer: &mockConfirmer{answer: true}, wantDeleted: true},
		{name: "declined", confirmer: &mockConfirmer{answer: false}, wantDeleted: false},
		{name: "forced without confirmer", force: true, wantDeleted: true},
		{name: "no confirmer", wantErr: domain.ErrConfirmationRequired},
		{name: "confirmer error", confirmer: &mockConfirmer{err: domain.ErrConfirmationRequired}, wantErr: domain.ErrConfirmationRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ident := env.twoAdmins(t)
			txID := env.stageClaim(t, ident.ID, false)

			result, err := env.stages.Delete(ctx, string(txID), tt.confirmer, tt.force)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				if _, ok := env.staged.items[txID]; !ok {
					t.Error("want staged transaction kept")
				}
				return
			}
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if result.Deleted != tt.wantDeleted {
				t.Errorf("want deleted=%v, got %v", tt.wantDeleted, result.Deleted)
			}
			if _, ok := env.staged.items[txID]; ok == tt.wantDeleted {
				t.Errorf("want present=%v after delete", !tt.wantDeleted)
			}
		})
	}
}

func TestStageService_Delete_ForceSkipsConfirmer(t *testing.T) {
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)
	confirmer := &mockConfirmer{answer: false}

	result, err := env.stages.Delete(context.Background(), string(txID), confirmer, true)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !result.Deleted {
		t.Error("want deleted")
	}
	if confirmer.asked != 0 {
		t.Errorf("want confirmer not asked, got %d", confirmer.asked)
	}
}

func TestStageService_ExportImport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, true)
	transport := StaticPassphrase("transport secret")

	first, err := env.stages.Export(ctx, string(txID), env.unlocker, transport)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	second, err := env.stages.Export(ctx, string(txID), env.unlocker, transport)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if first.KDF == nil || second.KDF == nil {
		t.Fatal("want transport parameters in export")
	}
	if bytes.Equal(first.KDF.Salt, second.KDF.Salt) {
		t.Error("want a fresh salt for each export")
	}
	if first.ExportID == second.ExportID {
		t.Error("want a distinct export id for each export")
	}
	if first.Transaction.ID != txID || second.Transaction.ID != txID {
		t.Error("want transaction id unchanged by export")
	}

	staged := env.staged.items[txID].Transaction.Body.Claim.Private
	exported := first.Transaction.Body.Claim.Private
	if !bytes.Equal(staged.Commitment, exported.Commitment) {
		t.Error("want commitment unchanged by export")
	}
	if bytes.Equal(staged.Ciphertext, exported.Ciphertext) {
		t.Error("want ciphertext rewrapped for transport")
	}

	// 受け取った側で取り込み、二人目が署名する
	delete(env.staged.items, txID)
	imported, err := env.stages.Import(ctx, first, env.unlocker, transport)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported != txID {
		t.Errorf("want imported %s, got %s", txID, imported)
	}
	signed, err := env.stages.Sign(ctx, string(txID), "admin-b", env.unlocker)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !signed.Ready {
		t.Fatal("want ready after import and second signature")
	}
	if _, err := env.stages.Apply(ctx, string(txID)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	after := env.current(t, ident.ID)
	if len(after.Claims) != 1 {
		t.Fatalf("want 1 claim, got %d", len(after.Claims))
	}
	mk, err := crypto.DeriveMasterKey([]byte(testPassphrase), crypto.IdentitySalt(after.Created), testKDF)
	if err != nil {
		t.Fatalf("DeriveMasterKey failed: %v", err)
	}
	defer mk.Wipe()
	value, err := env.engine.OpenClaim(after.Claims[0], mk)
	if err != nil {
		t.Fatalf("OpenClaim failed: %v", err)
	}
	if value != "me@example.com" {
		t.Errorf("want me@example.com, got %s", value)
	}
}

func TestStageService_Import_WrongTransportPassphrase(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, true)

	envelope, err := env.stages.Export(ctx, string(txID), env.unlocker, StaticPassphrase("transport secret"))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if _, err := env.stages.Import(ctx, envelope, env.unlocker, StaticPassphrase("guess")); !errors.Is(err, domain.ErrIncorrectCredential) {
		t.Fatalf("want ErrIncorrectCredential, got %v", err)
	}
	if _, err := env.stages.Import(ctx, envelope, env.unlocker, nil); !errors.Is(err, domain.ErrIncorrectCredential) {
		t.Fatalf("want ErrIncorrectCredential without transport passphrase, got %v", err)
	}
}

func TestStageService_Export_PrivateNeedsTransport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, true)

	if _, err := env.stages.Export(ctx, string(txID), env.unlocker, nil); !errors.Is(err, domain.ErrIncorrectCredential) {
		t.Fatalf("want ErrIncorrectCredential, got %v", err)
	}
}

func TestStageService_Export_PublicSkipsPassphrases(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)
	unlocker := &countingUnlocker{inner: env.unlocker}

	envelope, err := env.stages.Export(ctx, string(txID), unlocker, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if envelope.KDF != nil {
		t.Error("want no transport parameters for public transaction")
	}
	if unlocker.calls != 0 {
		t.Errorf("want no unlock for public transaction, got %d", unlocker.calls)
	}

	imported, err := env.stages.Import(ctx, envelope, nil, nil)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported != txID {
		t.Errorf("want %s, got %s", txID, imported)
	}
}

func TestStageService_Import_Rejects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)
	envelope, err := env.stages.Export(ctx, string(txID), nil, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(e *domain.ExportEnvelope)
	}{
		{name: "unknown version", mutate: func(e *domain.ExportEnvelope) { e.Version = 99 }},
		{name: "tampered body", mutate: func(e *domain.ExportEnvelope) { e.Transaction.Body.Claim.Value = "evil@example.com" }},
		{name: "identity mismatch", mutate: func(e *domain.ExportEnvelope) { e.IdentityID = "other" }},
		{name: "missing transaction", mutate: func(e *domain.ExportEnvelope) { e.Transaction = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := *envelope
			e.Transaction = envelope.Transaction.Clone()
			tt.mutate(&e)
			if _, err := env.stages.Import(ctx, &e, nil, nil); !errors.Is(err, domain.ErrInvalidTransaction) {
				t.Fatalf("want ErrInvalidTransaction, got %v", err)
			}
		})
	}
}

func TestStageService_Import_OverwriteDropsSignatures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	txID := env.stageClaim(t, ident.ID, false)

	envelope, err := env.stages.Export(ctx, string(txID), nil, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if _, err := env.stages.Sign(ctx, string(txID), "admin-b", env.unlocker); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if _, err := env.stages.Import(ctx, envelope, nil, nil); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if got := len(env.staged.items[txID].Transaction.Signatures); got != 1 {
		t.Errorf("want import to replace the entry with 1 signature, got %d", got)
	}
}

func TestStageService_Find_Ambiguous(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ident := env.twoAdmins(t)
	a := env.stageClaim(t, ident.ID, false)

	// 同じ先頭文字を持つエントリを追加する
	prefix := string(a)[:1]
	st := env.staged.items[a]
	env.staged.items[domain.TransactionID(prefix+"zzzz")] = &domain.StagedTransaction{ID: domain.TransactionID(prefix + "zzzz"), IdentityID: ident.ID, Transaction: st.Transaction}

	_, err := env.stages.View(ctx, prefix)
	var ambiguous *domain.AmbiguousMatchError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("want AmbiguousMatchError, got %v", err)
	}
	if len(ambiguous.Candidates) < 2 {
		t.Errorf("want all candidates listed, got %v", ambiguous.Candidates)
	}
	if !errors.Is(err, domain.ErrAmbiguousMatch) {
		t.Error("want ErrAmbiguousMatch")
	}
}
