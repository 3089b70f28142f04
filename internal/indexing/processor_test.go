package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/models"
)

type recordingIndexer struct {
	upserts  []models.EventDocument
	updates  []models.EventDocument
	deletes  []string
	versions []string
	fail     bool
}

func (r *recordingIndexer) Upsert(_ context.Context, doc *models.EventDocument, version string) error {
	if r.fail {
		return errors.New("index unavailable")
	}
	r.upserts = append(r.upserts, *doc)
	r.versions = append(r.versions, version)
	return nil
}

func (r *recordingIndexer) Update(_ context.Context, doc *models.EventDocument, version string) error {
	if r.fail {
		return errors.New("index unavailable")
	}
	r.updates = append(r.updates, *doc)
	r.versions = append(r.versions, version)
	return nil
}

func (r *recordingIndexer) Delete(_ context.Context, id, version string) error {
	if r.fail {
		return errors.New("index unavailable")
	}
	r.deletes = append(r.deletes, id)
	r.versions = append(r.versions, version)
	return nil
}

func TestExtractCity(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"Mercedes-Benz Arena, Berlin", "Berlin"},
		{"Berlin", "Berlin"},
		{"Venue, District, Austin ", "Austin"},
		{"Venue, ", "Venue"},
		{"  ,  , ", "Unknown"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		if got := ExtractCity(tt.location); got != tt.want {
			t.Errorf("ExtractCity(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestHandleCreatedProjectsDocument(t *testing.T) {
	indexer := &recordingIndexer{}
	p := NewProcessor(indexer, zap.NewNop())

	created := time.Now().UTC().Add(-time.Hour)
	msg := &models.EventCreatedMessage{
		EventID:         "evt-1",
		Version:         "1",
		Name:            "Tech Conf",
		Description:     "annual conference",
		Category:        "Technology",
		EventDate:       created.AddDate(0, 1, 0),
		Location:        "Convention Center, Austin",
		MaxCapacity:     500,
		TicketPrice:     50,
		OrganizerUserID: "org-7",
		IsActive:        true,
		CreatedAt:       created,
	}

	if err := p.HandleCreated(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(indexer.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(indexer.upserts))
	}

	doc := indexer.upserts[0]
	if doc.ID != "evt-1" || doc.Title != "Tech Conf" || doc.City != "Austin" {
		t.Errorf("unexpected projection: %+v", doc)
	}
	if doc.AvailableTickets != 500 || doc.Price != 50 {
		t.Errorf("capacity/price not mapped: %+v", doc)
	}
	if doc.Popularity <= 0 || doc.Popularity > 10 {
		t.Errorf("popularity %v out of bounds (0, 10]", doc.Popularity)
	}
	if indexer.versions[0] != "1" {
		t.Errorf("version = %q, want 1", indexer.versions[0])
	}
}

func TestHandleUpdatedProjectsDocument(t *testing.T) {
	indexer := &recordingIndexer{}
	p := NewProcessor(indexer, zap.NewNop())

	msg := &models.EventUpdatedMessage{
		EventID:   "evt-1",
		Version:   "2",
		Name:      "Tech Conf (moved)",
		Location:  "New Venue, Dallas",
		IsActive:  true,
		UpdatedAt: time.Now().UTC(),
	}
	if err := p.HandleUpdated(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(indexer.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(indexer.updates))
	}
	if indexer.updates[0].City != "Dallas" {
		t.Errorf("city = %q, want Dallas", indexer.updates[0].City)
	}
}

func TestHandleDeleted(t *testing.T) {
	indexer := &recordingIndexer{}
	p := NewProcessor(indexer, zap.NewNop())

	msg := &models.EventDeletedMessage{EventID: "evt-1", Version: "3"}
	if err := p.HandleDeleted(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(indexer.deletes) != 1 || indexer.deletes[0] != "evt-1" {
		t.Errorf("deletes = %v", indexer.deletes)
	}
}

func TestIndexerErrorPropagates(t *testing.T) {
	p := NewProcessor(&recordingIndexer{fail: true}, zap.NewNop())

	if err := p.HandleCreated(context.Background(), &models.EventCreatedMessage{EventID: "x"}); err == nil {
		t.Error("created: expected error")
	}
	if err := p.HandleDeleted(context.Background(), &models.EventDeletedMessage{EventID: "x"}); err == nil {
		t.Error("deleted: expected error")
	}
}
