package selector

import (
	"context"
	"fmt"
	"testing"

	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

func setup(t *testing.T) (*store.MemoryStore, *Selector) {
	t.Helper()
	t.Setenv("ACTIONCHAT_DATA_DIR", "-")
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	return st, New(st, nil)
}

func seedAgent(t *testing.T, st *store.MemoryStore) *models.Agent {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateOrg(ctx, &models.Org{ID: "org1", Name: "Org"}); err != nil {
		t.Fatalf("CreateOrg() error = %v", err)
	}
	agent := &models.Agent{ID: "ag1", OrgID: "org1", Name: "assistant"}
	if err := st.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	return agent
}

func TestSelectLexicalFallbackCapped(t *testing.T) {
	st, sel := setup(t)
	ctx := context.Background()
	agent := seedAgent(t, st)

	st.CreateSource(ctx, &models.Source{ID: "src1", OrgID: "org1", Name: "Big API", SourceKind: models.SourceOpenAPI, AuthKind: models.AuthNone})
	st.CreateLink(ctx, &models.AgentSourceLink{ID: "l1", AgentID: "ag1", SourceID: "src1", Permission: models.PermissionReadWrite})

	// 300 operations, none embedded.
	ops := make([]models.Operation, 300)
	for i := range ops {
		ops[i] = models.Operation{
			ID:          fmt.Sprintf("op-%03d", i),
			SourceID:    "src1",
			OperationID: fmt.Sprintf("op%03d", i),
			Name:        fmt.Sprintf("get_thing_%03d", i),
			Method:      "GET",
			Path:        fmt.Sprintf("/v1/things/%d", i),
		}
	}
	if err := st.ReplaceOperations(ctx, "src1", ops); err != nil {
		t.Fatalf("ReplaceOperations() error = %v", err)
	}

	cands, err := sel.Select(ctx, "org1", agent, "show me things")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(cands) != KCap {
		t.Fatalf("candidate count = %d, want %d", len(cands), KCap)
	}
	// Lexical order: first candidate is the lowest name.
	if cands[0].Operation.Name != "get_thing_000" {
		t.Errorf("first candidate = %s, want get_thing_000", cands[0].Operation.Name)
	}
	for _, c := range cands {
		if len(c.WireName) > 64 {
			t.Errorf("wire name %q exceeds 64 chars", c.WireName)
		}
	}
}

func TestSelectReadOnlyLinkFiltersWrites(t *testing.T) {
	st, sel := setup(t)
	ctx := context.Background()
	agent := seedAgent(t, st)

	st.CreateSource(ctx, &models.Source{ID: "src1", OrgID: "org1", Name: "Payments", SourceKind: models.SourceOpenAPI, AuthKind: models.AuthBearer})
	st.CreateLink(ctx, &models.AgentSourceLink{ID: "l1", AgentID: "ag1", SourceID: "src1", Permission: models.PermissionRead})
	st.ReplaceOperations(ctx, "src1", []models.Operation{
		{ID: "op-1", SourceID: "src1", OperationID: "listRefunds", Name: "listRefunds", Method: "GET", Path: "/refunds"},
		{ID: "op-2", SourceID: "src1", OperationID: "createRefund", Name: "createRefund", Method: "POST", Path: "/refunds"},
	})

	cands, err := sel.Select(ctx, "org1", agent, "refund the customer")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidate count = %d, want 1", len(cands))
	}
	if cands[0].Operation.Name != "listRefunds" {
		t.Errorf("exposed operation = %s, want listRefunds", cands[0].Operation.Name)
	}
}

func TestSearchToolsLexical(t *testing.T) {
	st, sel := setup(t)
	ctx := context.Background()
	agent := seedAgent(t, st)

	st.CreateSource(ctx, &models.Source{ID: "src1", OrgID: "org1", Name: "CRM", SourceKind: models.SourceOpenAPI, AuthKind: models.AuthNone})
	st.CreateLink(ctx, &models.AgentSourceLink{ID: "l1", AgentID: "ag1", SourceID: "src1", Permission: models.PermissionReadWrite})
	st.ReplaceOperations(ctx, "src1", []models.Operation{
		{ID: "op-1", SourceID: "src1", OperationID: "listContacts", Name: "listContacts", Description: "List CRM contacts", Method: "GET", Path: "/contacts"},
		{ID: "op-2", SourceID: "src1", OperationID: "createDeal", Name: "createDeal", Description: "Create a deal", Method: "POST", Path: "/deals"},
	})

	hits, err := sel.SearchTools(ctx, "org1", agent, "contacts")
	if err != nil {
		t.Fatalf("SearchTools() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Name != "listContacts" {
		t.Fatalf("hits = %+v, want only listContacts", hits)
	}
	if hits[0].Method != "GET" || hits[0].Path != "/contacts" {
		t.Errorf("hit = %+v, want GET /contacts", hits[0])
	}
}

func TestResolveWireName(t *testing.T) {
	st, sel := setup(t)
	ctx := context.Background()
	agent := seedAgent(t, st)

	st.CreateSource(ctx, &models.Source{ID: "src1", OrgID: "org1", Name: "CRM", SourceKind: models.SourceOpenAPI, AuthKind: models.AuthNone})
	st.CreateLink(ctx, &models.AgentSourceLink{ID: "l1", AgentID: "ag1", SourceID: "src1", Permission: models.PermissionReadWrite})
	st.ReplaceOperations(ctx, "src1", []models.Operation{
		{ID: "123e4567-e89b-12d3-a456-426614174000", SourceID: "src1", OperationID: "listContacts", Name: "listContacts", Method: "GET", Path: "/contacts"},
	})

	wire := models.ToolIdentifier("listContacts", "123e4567-e89b-12d3-a456-426614174000")
	op, src, err := sel.Resolve(ctx, "org1", agent, wire)
	if err != nil {
		t.Fatalf("Resolve(%q) error = %v", wire, err)
	}
	if op.OperationID != "listContacts" || src.ID != "src1" {
		t.Errorf("resolved = %s/%s, want listContacts/src1", op.OperationID, src.ID)
	}

	if _, _, err := sel.Resolve(ctx, "org1", agent, "unknown_tool_deadbeef"); err == nil {
		t.Error("Resolve(unknown) succeeded, want error")
	}
}

func TestResolveHonorsReadOnlyLink(t *testing.T) {
	st, sel := setup(t)
	ctx := context.Background()
	agent := seedAgent(t, st)

	st.CreateSource(ctx, &models.Source{ID: "src1", OrgID: "org1", Name: "Payments", SourceKind: models.SourceOpenAPI, AuthKind: models.AuthBearer})
	st.CreateLink(ctx, &models.AgentSourceLink{ID: "l1", AgentID: "ag1", SourceID: "src1", Permission: models.PermissionRead})
	st.ReplaceOperations(ctx, "src1", []models.Operation{
		{ID: "123e4567-e89b-12d3-a456-426614174aaa", SourceID: "src1", OperationID: "createRefund", Name: "create_refund", Method: "POST", Path: "/refunds"},
		{ID: "123e4567-e89b-12d3-a456-426614174bbb", SourceID: "src1", OperationID: "listRefunds", Name: "list_refunds", Method: "GET", Path: "/refunds"},
	})

	// The write operation stays invisible even when addressed directly
	// by wire name, matching what Select exposes.
	wireWrite := models.ToolIdentifier("create_refund", "123e4567-e89b-12d3-a456-426614174aaa")
	if _, _, err := sel.Resolve(ctx, "org1", agent, wireWrite); !store.IsNotFound(err) {
		t.Errorf("Resolve(write op on read link) error = %v, want ErrNotFound", err)
	}

	wireRead := models.ToolIdentifier("list_refunds", "123e4567-e89b-12d3-a456-426614174bbb")
	op, _, err := sel.Resolve(ctx, "org1", agent, wireRead)
	if err != nil {
		t.Fatalf("Resolve(%q) error = %v", wireRead, err)
	}
	if op.OperationID != "listRefunds" {
		t.Errorf("resolved = %s, want listRefunds", op.OperationID)
	}
}
