package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/models"
)

type fakeSearchService struct {
	lastQuery                    *models.SearchQuery
	popularCategory, popularCity string
}

func (f *fakeSearchService) Search(_ context.Context, q *models.SearchQuery) (*models.SearchResult, error) {
	f.lastQuery = q
	return &models.SearchResult{Items: []models.EventDocument{}, Page: q.Page, PageSize: q.PageSize}, nil
}

func (f *fakeSearchService) Autocomplete(_ context.Context, prefix string, max int) ([]models.Suggestion, error) {
	if len(prefix) < 2 {
		return []models.Suggestion{}, nil
	}
	return []models.Suggestion{{Text: "Tech Conf", Type: "event", Score: 3}}, nil
}

func (f *fakeSearchService) SimilarTo(_ context.Context, id string, max int) (*models.SearchResult, error) {
	return &models.SearchResult{Items: []models.EventDocument{}, Page: 1, PageSize: max}, nil
}

func (f *fakeSearchService) Popular(_ context.Context, category, city string, max int) (*models.SearchResult, error) {
	f.popularCategory, f.popularCity = category, city
	return &models.SearchResult{Items: []models.EventDocument{}, Page: 1, PageSize: max}, nil
}

type fakeIndexService struct {
	docs map[string]models.EventDocument
}

func newFakeIndexService() *fakeIndexService {
	return &fakeIndexService{docs: make(map[string]models.EventDocument)}
}

func (f *fakeIndexService) Upsert(_ context.Context, doc *models.EventDocument, _ string) error {
	f.docs[doc.ID] = *doc
	return nil
}

func (f *fakeIndexService) Update(_ context.Context, doc *models.EventDocument, _ string) error {
	f.docs[doc.ID] = *doc
	return nil
}

func (f *fakeIndexService) BulkUpsert(_ context.Context, docs []models.EventDocument) error {
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return nil
}

func (f *fakeIndexService) Delete(_ context.Context, id, _ string) error {
	delete(f.docs, id)
	return nil
}

func (f *fakeIndexService) Exists(_ context.Context, id string) (bool, error) {
	_, ok := f.docs[id]
	return ok, nil
}

func newTestServer() (*httptest.Server, *fakeSearchService, *fakeIndexService) {
	search := &fakeSearchService{}
	index := newFakeIndexService()
	handlers := NewHandlers(search, index, zap.NewNop())
	router := NewRouter(handlers, NewHealthChecker(), zap.NewNop())
	return httptest.NewServer(router), search, index
}

func TestSearchEventsValidation(t *testing.T) {
	srv, _, _ := newTestServer()
	defer srv.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid query", `{"searchText":"jazz"}`, http.StatusOK},
		{"empty query is valid", `{}`, http.StatusOK},
		{"malformed json", `{`, http.StatusBadRequest},
		{"inverted price range", `{"minPrice":100,"maxPrice":10}`, http.StatusBadRequest},
		{"inverted date range", `{"startDate":"2026-09-01T00:00:00Z","endDate":"2026-08-01T00:00:00Z"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/search/events", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestAutocompleteEndpoint(t *testing.T) {
	srv, _, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/search/autocomplete?query=te&maxResults=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Suggestions) != 1 || body.Suggestions[0].Type != "event" {
		t.Errorf("suggestions = %+v", body.Suggestions)
	}
}

func TestAutocompleteRejectsNonIntegerMax(t *testing.T) {
	srv, _, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/search/autocomplete?query=te&maxResults=lots")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPopularPassesFilters(t *testing.T) {
	srv, search, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/search/popular?category=Music&city=Berlin")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if search.popularCategory != "Music" || search.popularCity != "Berlin" {
		t.Errorf("filters not forwarded: category=%q city=%q", search.popularCategory, search.popularCity)
	}
}

func TestIndexEventLifecycle(t *testing.T) {
	srv, _, index := newTestServer()
	defer srv.Close()
	client := srv.Client()

	doc := `{"id":"evt-1","title":"Tech Conf","category":"Technology","isActive":true}`
	resp, err := client.Post(srv.URL+"/api/v1/index/events", "application/json", strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("index status = %d", resp.StatusCode)
	}
	if _, ok := index.docs["evt-1"]; !ok {
		t.Fatal("document not stored")
	}

	resp, err = client.Get(srv.URL + "/api/v1/index/events/evt-1/exists")
	if err != nil {
		t.Fatal(err)
	}
	var existsBody struct {
		Exists bool `json:"exists"`
	}
	json.NewDecoder(resp.Body).Decode(&existsBody)
	resp.Body.Close()
	if !existsBody.Exists {
		t.Error("exists = false after indexing")
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/index/events/evt-1", nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if _, ok := index.docs["evt-1"]; ok {
		t.Error("document still stored after delete")
	}
}

func TestIndexEventRequiresID(t *testing.T) {
	srv, _, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/index/events", "application/json",
		strings.NewReader(`{"title":"no id"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateEventRejectsIDMismatch(t *testing.T) {
	srv, _, _ := newTestServer()
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/index/events/evt-1",
		strings.NewReader(`{"id":"evt-2","title":"wrong id"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBulkIndexRejectsEmptyBatch(t *testing.T) {
	srv, _, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/index/events/bulk", "application/json",
		strings.NewReader(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv, _, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID header")
	}
}
