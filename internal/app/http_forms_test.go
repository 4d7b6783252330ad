package app

import (
	"context"
	"net/http"
	"testing"

	"github.com/Sonu-0009/Dahboard-Backend2/internal/rbac"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/store"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/util"
)

func TestCreateFormEndpointReturnsNormalizedForm(t *testing.T) {
	fs := &fakeStore{}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodPost, "/forms", token, `{
		"title": "Lunch survey",
		"description": "weekly",
		"questions": [
			{"text": "name", "type": "text"},
			{"id": "q1", "text": "day", "type": "radio", "options": ["mon", "tue"]}
		]
	}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	questions, _ := payload["questions"].([]any)
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %s", rr.Body.String())
	}
	first, _ := questions[0].(map[string]any)
	if first["id"] != "q2" {
		t.Fatalf("expected blank question to get q2 (q1 was taken), got %v", first["id"])
	}
	if payload["created_by"] != "usr_admin" {
		t.Fatalf("expected created_by usr_admin, got %v", payload["created_by"])
	}
}

func TestCreateFormEndpointRejectsUserRole(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	rr := doJSON(t, server, http.MethodPost, "/forms", token, `{"title":"t","questions":[]}`)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestListFormsEndpointEchoesPagination(t *testing.T) {
	fs := &fakeStore{
		listFormsFn: func(_ context.Context, _ store.FormFilter, limit, offset int) ([]store.Form, int, error) {
			if limit != 5 || offset != 10 {
				t.Fatalf("expected limit 5 offset 10, got %d %d", limit, offset)
			}
			return []store.Form{{ID: util.NewID("frm"), Title: "t"}}, 25, nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodGet, "/forms?page=3&page_size=5", token, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	pagination, _ := payload["pagination"].(map[string]any)
	if pagination["total"] != float64(25) || pagination["page"] != float64(3) || pagination["page_size"] != float64(5) {
		t.Fatalf("unexpected pagination %v", payload)
	}
	if items, _ := payload["items"].([]any); len(items) != 1 {
		t.Fatalf("expected one item, got %s", rr.Body.String())
	}
}

func TestListFormsEndpointRejectsNonIntegerPage(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodGet, "/forms?page=abc", token, "")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestGetFormEndpointNotFound(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodGet, "/forms/"+util.NewID("frm"), token, "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if parseBody(t, rr)["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", rr.Body.String())
	}
}

func TestGetFormEndpointMalformedID(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodGet, "/forms/12345", token, "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if parseBody(t, rr)["code"] != "INVALID_REFERENCE" {
		t.Fatalf("expected INVALID_REFERENCE, got %s", rr.Body.String())
	}
}

func TestDeleteFormEndpointReturnsCounts(t *testing.T) {
	formID := util.NewID("frm")
	fs := &fakeStore{
		getFormFn: func(_ context.Context, id string) (store.Form, error) {
			return store.Form{ID: id, CreatedBy: "usr_admin"}, nil
		},
		deleteFormFn: func(_ context.Context, _ string) (int, int, error) {
			return 1, 3, nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodDelete, "/forms/"+formID, token, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["deleted_form_count"] != float64(1) || payload["deleted_response_count"] != float64(3) {
		t.Fatalf("unexpected counts %v", payload)
	}
}

func TestDeleteFormEndpointForbiddenForNonOwner(t *testing.T) {
	formID := util.NewID("frm")
	fs := &fakeStore{
		getFormFn: func(_ context.Context, id string) (store.Form, error) {
			return store.Form{ID: id, CreatedBy: "usr_someone_else"}, nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodDelete, "/forms/"+formID, token, "")

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestFormSummaryEndpointReturnsFormAndResponses(t *testing.T) {
	formID := util.NewID("frm")
	fs := &fakeStore{
		getFormFn: func(_ context.Context, id string) (store.Form, error) {
			return surveyForm(id), nil
		},
		listFormResponsesFn: func(_ context.Context, _ string, limit, offset int) ([]store.FormResponse, int, error) {
			if limit != 20 || offset != 0 {
				t.Fatalf("expected default limit 20 offset 0, got %d %d", limit, offset)
			}
			return []store.FormResponse{
				{ID: util.NewID("rsp"), FormID: formID, UserID: "usr_a"},
			}, 1, nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	rr := doJSON(t, server, http.MethodGet, "/forms/"+formID+"/summary", token, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	form, _ := payload["form"].(map[string]any)
	if form["id"] != formID {
		t.Fatalf("expected form %s, got %v", formID, form["id"])
	}
	if responses, _ := payload["responses"].([]any); len(responses) != 1 {
		t.Fatalf("expected one response, got %s", rr.Body.String())
	}
	pagination, _ := payload["pagination"].(map[string]any)
	if pagination["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", payload["pagination"])
	}
}
