package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/Sonu-0009/Dahboard-Backend2/internal/rbac"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/store"
	"github.com/Sonu-0009/Dahboard-Backend2/internal/util"
)

func TestSubmitResponseEndpointCheckboxFlow(t *testing.T) {
	formID := util.NewID("frm")
	var inserted store.FormResponse
	fs := &fakeStore{
		getFormFn: func(_ context.Context, id string) (store.Form, error) {
			return store.Form{
				ID:    id,
				Title: "Toppings",
				Questions: []store.Question{
					{ID: "q1", Text: "pick", Type: store.QuestionCheckbox, Options: []string{"olives", "onions", "peppers"}},
				},
				CreatedBy: "usr_admin",
			}, nil
		},
		insertResponseFn: func(_ context.Context, response store.FormResponse) error {
			inserted = response
			return nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	body := fmt.Sprintf(`{"form_id":%q,"answers":{"q1":["olives","peppers"]}}`, formID)
	rr := doJSON(t, server, http.MethodPost, "/form_responses/submit", token, body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["form_id"] != formID || payload["user_id"] != "usr_1" {
		t.Fatalf("unexpected response payload %v", payload)
	}

	answer, ok := inserted.Answers["q1"]
	if !ok || !answer.IsList || len(answer.Choices) != 2 {
		t.Fatalf("expected checkbox answer stored as list, got %+v", answer)
	}
	if inserted.UserID != "usr_1" {
		t.Fatalf("expected submitter usr_1, got %q", inserted.UserID)
	}
}

func TestSubmitResponseEndpointRejectsBadOption(t *testing.T) {
	formID := util.NewID("frm")
	fs := &fakeStore{
		getFormFn: func(_ context.Context, id string) (store.Form, error) {
			return surveyForm(id), nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	body := fmt.Sprintf(`{"form_id":%q,"answers":{"q1":"green"}}`, formID)
	rr := doJSON(t, server, http.MethodPost, "/form_responses/submit", token, body)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["code"] != "INVALID_ANSWER" {
		t.Fatalf("expected INVALID_ANSWER, got %s", rr.Body.String())
	}
	details, _ := payload["details"].(map[string]any)
	if details["question_id"] != "q1" {
		t.Fatalf("expected question_id q1 in details, got %v", payload["details"])
	}
}

func TestSubmitResponseEndpointRejectsNonStringAnswer(t *testing.T) {
	formID := util.NewID("frm")
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	body := fmt.Sprintf(`{"form_id":%q,"answers":{"q1":42}}`, formID)
	rr := doJSON(t, server, http.MethodPost, "/form_responses/submit", token, body)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if parseBody(t, rr)["code"] != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %s", rr.Body.String())
	}
}

func TestSubmitResponseEndpointDuplicate(t *testing.T) {
	formID := util.NewID("frm")
	fs := &fakeStore{
		getFormFn: func(_ context.Context, id string) (store.Form, error) {
			return surveyForm(id), nil
		},
		hasUserResponseFn: func(_ context.Context, _, _ string) (bool, error) {
			return true, nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	body := fmt.Sprintf(`{"form_id":%q,"answers":{"q3":"hi"}}`, formID)
	rr := doJSON(t, server, http.MethodPost, "/form_responses/submit", token, body)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if parseBody(t, rr)["code"] != "DUPLICATE_SUBMISSION" {
		t.Fatalf("expected DUPLICATE_SUBMISSION, got %s", rr.Body.String())
	}
}

func TestSubmitResponseEndpointRequiresUserRole(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	token := seedSession(t, svc, "usr_admin", rbac.RoleAdmin)

	body := fmt.Sprintf(`{"form_id":%q,"answers":{}}`, util.NewID("frm"))
	rr := doJSON(t, server, http.MethodPost, "/form_responses/submit", token, body)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestMyResponsesEndpointReturnsOwnSubmissions(t *testing.T) {
	formID := util.NewID("frm")
	fs := &fakeStore{
		getFormFn: func(_ context.Context, id string) (store.Form, error) {
			return surveyForm(id), nil
		},
		listUserResponsesFn: func(_ context.Context, _, userID string) ([]store.FormResponse, error) {
			if userID != "usr_1" {
				t.Fatalf("expected lookup scoped to usr_1, got %q", userID)
			}
			return []store.FormResponse{
				{ID: util.NewID("rsp"), FormID: formID, UserID: userID,
					Answers: map[string]store.Answer{"q3": store.TextAnswer("hi")}},
			}, nil
		},
	}
	server, svc := newTestServer(fs)
	token := seedSession(t, svc, "usr_1", rbac.RoleUser)

	rr := doJSON(t, server, http.MethodGet, "/form_responses/"+formID+"/my", token, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	responses, _ := parseBody(t, rr)["items"].([]any)
	if len(responses) != 1 {
		t.Fatalf("expected one response, got %s", rr.Body.String())
	}
	first, _ := responses[0].(map[string]any)
	answers, _ := first["answers"].(map[string]any)
	if answers["q3"] != "hi" {
		t.Fatalf("expected text answer serialized as string, got %v", answers["q3"])
	}
}
