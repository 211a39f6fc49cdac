package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/sender"
	"github.com/tracyhatemice/inboxsync/internal/service"
	"github.com/tracyhatemice/inboxsync/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBackend struct {
	running map[string]bool
	owner   string
	limit   int
}

func (f *fakeBackend) StartSync(id string) (bool, error) {
	if id != "work" {
		return false, fmt.Errorf("%w: %s", service.ErrUnknownMailbox, id)
	}
	if f.running[id] {
		return false, nil
	}
	f.running[id] = true
	return true, nil
}

func (f *fakeBackend) StopSync(id string) (bool, error) {
	was := f.running[id]
	delete(f.running, id)
	return was, nil
}

func (f *fakeBackend) Mailboxes() []service.MailboxInfo {
	return []service.MailboxInfo{{ID: "work", OwnerID: "owner1"}}
}

func (f *fakeBackend) Sweep(_ context.Context, owner string) (int, error) {
	f.owner = owner
	return 2, nil
}

func (f *fakeBackend) FetchRecent(_ context.Context, owner string, limit int) ([]model.EmailDocument, error) {
	f.owner, f.limit = owner, limit
	return []model.EmailDocument{{ID: "work-1", OwnerID: owner, Labels: []model.Label{model.LabelInterested}}}, nil
}

func (f *fakeBackend) GenerateReply(_ context.Context, id string) (string, error) {
	if id != "work-1" {
		return "", fmt.Errorf("%w: %s", service.ErrUnknownDocument, id)
	}
	return "Sounds good.", nil
}

func (f *fakeBackend) Send(_ context.Context, id string) (service.Sent, error) {
	if id == "work-2" {
		return service.Sent{}, fmt.Errorf("sending: %w", sender.ErrNoIdentity)
	}
	return service.Sent{From: "sales@example.com", To: "lead@acme.com", Subject: "Re: hi"}, nil
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	b := &fakeBackend{running: map[string]bool{}}
	r := NewRouter(b, testutil.Logger)

	cases := []struct {
		method, target string
		status         int
		contains       string
	}{
		{"POST", "/mailboxes/work/sync", http.StatusAccepted, `"started":true`},
		{"POST", "/mailboxes/work/sync", http.StatusOK, `"started":false`},
		{"POST", "/mailboxes/nope/sync", http.StatusNotFound, "unknown mailbox"},
		{"GET", "/mailboxes", http.StatusOK, `"ownerId":"owner1"`},
		{"DELETE", "/mailboxes/work/sync", http.StatusOK, `"stopped":true`},
		{"POST", "/sweep?owner=owner1", http.StatusOK, `"classified":2`},
		{"GET", "/emails?owner=owner1&limit=x", http.StatusBadRequest, "limit"},
		{"GET", "/emails?owner=owner1&limit=10", http.StatusOK, `"Interested"`},
		{"POST", "/emails/work-1/reply", http.StatusOK, "Sounds good."},
		{"POST", "/emails/work-9/reply", http.StatusNotFound, "unknown document"},
		{"POST", "/emails/work-1/send", http.StatusOK, `"to":"lead@acme.com"`},
		{"POST", "/emails/work-2/send", http.StatusUnprocessableEntity, "identity"},
	}
	for _, tc := range cases {
		rec := do(t, r, tc.method, tc.target)
		if rec.Code != tc.status {
			t.Errorf("%s %s: status %d, want %d (%s)", tc.method, tc.target, rec.Code, tc.status, rec.Body)
			continue
		}
		if !strings.Contains(rec.Body.String(), tc.contains) {
			t.Errorf("%s %s: body %s lacks %s", tc.method, tc.target, rec.Body, tc.contains)
		}
	}
	if b.owner != "owner1" || b.limit != 10 {
		t.Errorf("backend got owner=%q limit=%d", b.owner, b.limit)
	}
}

func TestEmailsJSON(t *testing.T) {
	r := NewRouter(&fakeBackend{running: map[string]bool{}}, testutil.Logger)
	rec := do(t, r, "GET", "/emails?owner=owner1")

	var docs []model.EmailDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "work-1" || !docs[0].HasLabel(model.LabelInterested) {
		t.Errorf("docs %+v", docs)
	}
}

func TestMetrics(t *testing.T) {
	r := NewRouter(&fakeBackend{running: map[string]bool{}}, testutil.Logger)
	rec := do(t, r, "GET", "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics endpoint: %d", rec.Code)
	}
}
