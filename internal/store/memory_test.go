package store

import (
	"context"
	"strings"
	"testing"

	"github.com/actionchat/actionchat/pkg/models"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	t.Setenv("ACTIONCHAT_DATA_DIR", "-")
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCredentialSingleActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.Credential{ID: "c1", OrgID: "org1", UserID: "u1", SourceID: "src1", Token: "tok-one"}
	if err := s.CreateCredential(ctx, first); err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}
	second := &models.Credential{ID: "c2", OrgID: "org1", UserID: "u1", SourceID: "src1", Token: "tok-two"}
	if err := s.CreateCredential(ctx, second); err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}

	active, err := s.GetActiveCredential(ctx, "org1", "u1", "src1")
	if err != nil {
		t.Fatalf("GetActiveCredential() error = %v", err)
	}
	if active.ID != "c2" {
		t.Errorf("active credential = %s, want c2", active.ID)
	}

	all, err := s.ListCredentials(ctx, "org1", "u1")
	if err != nil {
		t.Fatalf("ListCredentials() error = %v", err)
	}
	activeCount := 0
	for _, c := range all {
		if c.Active {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("active count = %d, want 1", activeCount)
	}

	// Other users' credentials are invisible.
	if _, err := s.GetActiveCredential(ctx, "org1", "u2", "src1"); err == nil {
		t.Error("GetActiveCredential() for other user succeeded, want ErrNotFound")
	}
}

func TestCredentialRotateKeepsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cred := &models.Credential{ID: "c1", OrgID: "org1", UserID: "u1", SourceID: "src1", Token: "old"}
	if err := s.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}

	rotated := &models.Credential{ID: "c1", OrgID: "org1", UserID: "u1", SourceID: "src1", Token: "new"}
	if err := s.RotateCredential(ctx, rotated); err != nil {
		t.Fatalf("RotateCredential() error = %v", err)
	}

	active, err := s.GetActiveCredential(ctx, "org1", "u1", "src1")
	if err != nil {
		t.Fatalf("GetActiveCredential() error = %v", err)
	}
	if active.ID != "c1" || active.Token != "new" {
		t.Errorf("rotated credential = %s/%s, want c1/new", active.ID, active.Token)
	}
	if active.RotatedAt == nil {
		t.Error("RotatedAt not stamped")
	}
}

func TestReplaceOperationsKeepsStableIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	initial := []models.Operation{
		{ID: "op-aaa", SourceID: "src1", OperationID: "listCustomers", Name: "List Customers", Method: "GET", Path: "/v1/customers"},
		{ID: "op-bbb", SourceID: "src1", OperationID: "deleteCustomer", Name: "Delete Customer", Method: "DELETE", Path: "/v1/customers/{id}"},
	}
	if err := s.ReplaceOperations(ctx, "src1", initial); err != nil {
		t.Fatalf("ReplaceOperations() error = %v", err)
	}

	// Re-ingest: listCustomers survives with a new description,
	// deleteCustomer disappears, createCustomer is new.
	next := []models.Operation{
		{ID: "op-ccc", SourceID: "src1", OperationID: "listCustomers", Name: "List Customers", Description: "updated", Method: "GET", Path: "/v1/customers"},
		{ID: "op-ddd", SourceID: "src1", OperationID: "createCustomer", Name: "Create Customer", Method: "POST", Path: "/v1/customers"},
	}
	if err := s.ReplaceOperations(ctx, "src1", next); err != nil {
		t.Fatalf("ReplaceOperations() error = %v", err)
	}

	ops, err := s.ListOperations(ctx, "src1")
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("operation count = %d, want 2", len(ops))
	}

	byOpID := make(map[string]models.Operation)
	for _, op := range ops {
		byOpID[op.OperationID] = op
	}
	if got := byOpID["listCustomers"].ID; got != "op-aaa" {
		t.Errorf("surviving operation ID = %s, want op-aaa", got)
	}
	if got := byOpID["listCustomers"].Description; got != "updated" {
		t.Errorf("surviving operation description = %q, want updated", got)
	}
	if got := byOpID["createCustomer"].ID; got != "op-ddd" {
		t.Errorf("new operation ID = %s, want op-ddd", got)
	}
	if _, ok := byOpID["deleteCustomer"]; ok {
		t.Error("removed operation still listed")
	}
}

func TestGetOperationByShortID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ops := []models.Operation{
		{ID: "123e4567-e89b-12d3-a456-426614174000", SourceID: "src1", OperationID: "listCharges", Name: "List Charges", Method: "GET", Path: "/v1/charges"},
	}
	if err := s.ReplaceOperations(ctx, "src1", ops); err != nil {
		t.Fatalf("ReplaceOperations() error = %v", err)
	}

	op, err := s.GetOperationByShortID(ctx, []string{"src1"}, "123e4567")
	if err != nil {
		t.Fatalf("GetOperationByShortID() error = %v", err)
	}
	if op.OperationID != "listCharges" {
		t.Errorf("resolved operation = %s, want listCharges", op.OperationID)
	}

	// Out-of-scope sources do not resolve.
	if _, err := s.GetOperationByShortID(ctx, []string{"src2"}, "123e4567"); err == nil {
		t.Error("GetOperationByShortID() resolved across source boundary")
	}
}

func TestSearchOperationsRanking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ops := []models.Operation{
		{ID: "op-1", SourceID: "src1", OperationID: "a", Name: "A", Method: "GET"},
		{ID: "op-2", SourceID: "src1", OperationID: "b", Name: "B", Method: "GET"},
		{ID: "op-3", SourceID: "src1", OperationID: "c", Name: "C", Method: "GET"},
	}
	if err := s.ReplaceOperations(ctx, "src1", ops); err != nil {
		t.Fatalf("ReplaceOperations() error = %v", err)
	}
	s.SetOperationEmbedding(ctx, "op-1", pad1536([]float64{1, 0}))
	s.SetOperationEmbedding(ctx, "op-2", pad1536([]float64{0.9, 0.1}))
	// op-3 has no embedding and must not appear.

	matches, err := s.SearchOperations(ctx, []string{"src1"}, pad1536([]float64{1, 0}), 5)
	if err != nil {
		t.Fatalf("SearchOperations() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("match count = %d, want 2", len(matches))
	}
	if matches[0].Operation.ID != "op-1" {
		t.Errorf("top match = %s, want op-1", matches[0].Operation.ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not ordered best first")
	}
}

func TestActionLogAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		rec := &models.ActionRecord{
			ID: id, OrgID: "org1", UserID: "u1", ToolID: "t1", SourceID: "src1",
			Method: "GET", URL: "https://api.example.com/v1/things",
			Status: models.ActionCompleted, ResponseStatus: 200,
		}
		if err := s.CreateAction(ctx, rec); err != nil {
			t.Fatalf("CreateAction(%s) error = %v", id, err)
		}
	}

	recs, err := s.ListActions(ctx, models.ActionFilter{OrgID: "org1"})
	if err != nil {
		t.Fatalf("ListActions() error = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("action count = %d, want 3", len(recs))
	}
	// Newest first.
	if recs[0].ID != "a3" || recs[2].ID != "a1" {
		t.Errorf("order = %s,%s,%s, want a3,a2,a1", recs[0].ID, recs[1].ID, recs[2].ID)
	}

	n, err := s.CountActions(ctx, models.ActionFilter{OrgID: "org1", Status: "completed"})
	if err != nil {
		t.Fatalf("CountActions() error = %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestActionResponseBodyCapped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	big := strings.Repeat("x", models.ResponseBodyCap+1000)
	rec := &models.ActionRecord{
		ID: "a1", OrgID: "org1", UserID: "u1", ToolID: "t1", SourceID: "src1",
		Method: "GET", URL: "https://api.example.com/v1/things",
		Status: models.ActionCompleted, ResponseStatus: 200, ResponseBody: big,
	}
	if err := s.CreateAction(ctx, rec); err != nil {
		t.Fatalf("CreateAction() error = %v", err)
	}

	got, err := s.GetAction(ctx, "org1", "a1")
	if err != nil {
		t.Fatalf("GetAction() error = %v", err)
	}
	if len(got.ResponseBody) != models.ResponseBodyCap {
		t.Errorf("stored body = %d bytes, want %d", len(got.ResponseBody), models.ResponseBodyCap)
	}
}

func TestActionLifecycleUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &models.ActionRecord{
		ID: "a1", OrgID: "org1", UserID: "u1", ToolID: "t1", SourceID: "src1",
		Method: "DELETE", URL: "https://api.example.com/v1/things/42",
		Status: models.ActionPendingConfirmation,
	}
	if err := s.CreateAction(ctx, rec); err != nil {
		t.Fatalf("CreateAction() error = %v", err)
	}

	// Dispatch fills in the concrete URL and body alongside the status.
	rec.Status = models.ActionCompleted
	rec.URL = "https://api.example.com/v1/things/42?force=true"
	rec.RequestBody = `{"force": true}`
	rec.ResponseStatus = 200
	rec.DurationMs = 31
	if err := s.UpdateAction(ctx, rec); err != nil {
		t.Fatalf("UpdateAction() error = %v", err)
	}

	got, err := s.GetAction(ctx, "org1", "a1")
	if err != nil {
		t.Fatalf("GetAction() error = %v", err)
	}
	if got.Status != models.ActionCompleted || got.ResponseStatus != 200 {
		t.Errorf("record = %s/%d, want completed/200", got.Status, got.ResponseStatus)
	}
	if got.URL != rec.URL || got.RequestBody != rec.RequestBody {
		t.Errorf("dispatch fields = %q/%q, want %q/%q", got.URL, got.RequestBody, rec.URL, rec.RequestBody)
	}

	// Cross-org updates fail.
	rec.OrgID = "org2"
	if err := s.UpdateAction(ctx, rec); err == nil {
		t.Error("UpdateAction() across orgs succeeded, want ErrNotFound")
	}
}

func TestChatMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat := &models.Chat{ID: "chat1", OrgID: "org1", UserID: "u1", AgentID: "ag1"}
	if err := s.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	msgs := []*models.ChatMessage{
		{ID: "m1", ChatID: "chat1", Role: "user", Content: "list my customers"},
		{ID: "m2", ChatID: "chat1", Role: "assistant", Content: "You have 3 customers."},
	}
	for _, msg := range msgs {
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := s.ListMessages(ctx, "chat1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) != 2 || got[0].Role != "user" || got[1].Role != "assistant" {
		t.Fatalf("messages = %+v, want user then assistant", got)
	}

	if err := s.AppendMessage(ctx, &models.ChatMessage{ID: "m3", ChatID: "missing", Role: "user"}); err == nil {
		t.Error("AppendMessage() to missing chat succeeded, want ErrNotFound")
	}
}

func TestDeleteSourceCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := &models.Source{ID: "src1", OrgID: "org1", Name: "Stripe", SourceKind: models.SourceOpenAPI, AuthKind: models.AuthBearer}
	if err := s.CreateSource(ctx, src); err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	s.ReplaceOperations(ctx, "src1", []models.Operation{
		{ID: "op-1", SourceID: "src1", OperationID: "x", Name: "X", Method: "GET"},
	})
	s.CreateLink(ctx, &models.AgentSourceLink{ID: "l1", AgentID: "ag1", SourceID: "src1", Permission: models.PermissionRead})
	s.CreateCredential(ctx, &models.Credential{ID: "c1", OrgID: "org1", UserID: "u1", SourceID: "src1", Token: "tok"})

	if err := s.DeleteSource(ctx, "org1", "src1"); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}

	if ops, _ := s.ListOperations(ctx, "src1"); len(ops) != 0 {
		t.Errorf("operations survived source delete: %d", len(ops))
	}
	if links, _ := s.ListLinks(ctx, "ag1"); len(links) != 0 {
		t.Errorf("links survived source delete: %d", len(links))
	}
	if creds, _ := s.ListCredentials(ctx, "org1", "u1"); len(creds) != 0 {
		t.Errorf("credentials survived source delete: %d", len(creds))
	}
}

// pad1536 extends a short vector to the production embedding width so
// search paths exercise the same column selection as real deployments.
func pad1536(v []float64) []float64 {
	out := make([]float64, 1536)
	copy(out, v)
	return out
}
