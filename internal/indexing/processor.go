package indexing

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/models"
)

// Indexer is the mutation capability the processor drives.
// Implemented by the index service.
type Indexer interface {
	Upsert(ctx context.Context, doc *models.EventDocument, version string) error
	Update(ctx context.Context, doc *models.EventDocument, version string) error
	Delete(ctx context.Context, id, version string) error
}

// Processor maps domain event messages onto document mutations. It is
// a pure projection: any indexer error propagates to the consumer,
// which then withholds the offset commit.
type Processor struct {
	indexer Indexer
	logger  *zap.Logger
}

func NewProcessor(indexer Indexer, logger *zap.Logger) *Processor {
	return &Processor{indexer: indexer, logger: logger}
}

func (p *Processor) HandleCreated(ctx context.Context, msg *models.EventCreatedMessage) error {
	doc := &models.EventDocument{
		ID:               msg.EventID,
		Title:            msg.Name,
		Description:      msg.Description,
		Category:         msg.Category,
		Location:         msg.Location,
		City:             ExtractCity(msg.Location),
		Price:            msg.TicketPrice,
		StartDate:        msg.EventDate,
		EndDate:          msg.EventDate,
		AvailableTickets: msg.MaxCapacity,
		Organizer:        msg.OrganizerUserID,
		Popularity:       initialPopularity(msg.CreatedAt),
		IsActive:         msg.IsActive,
		CreatedAt:        msg.CreatedAt,
		UpdatedAt:        msg.CreatedAt,
	}

	p.logger.Debug("projecting created event",
		zap.String("event_id", msg.EventID),
		zap.String("city", doc.City),
	)
	return p.indexer.Upsert(ctx, doc, msg.Version)
}

func (p *Processor) HandleUpdated(ctx context.Context, msg *models.EventUpdatedMessage) error {
	doc := &models.EventDocument{
		ID:               msg.EventID,
		Title:            msg.Name,
		Description:      msg.Description,
		Category:         msg.Category,
		Location:         msg.Location,
		City:             ExtractCity(msg.Location),
		Price:            msg.TicketPrice,
		StartDate:        msg.EventDate,
		EndDate:          msg.EventDate,
		AvailableTickets: msg.MaxCapacity,
		IsActive:         msg.IsActive,
		UpdatedAt:        msg.UpdatedAt,
	}

	p.logger.Debug("projecting updated event",
		zap.String("event_id", msg.EventID),
	)
	return p.indexer.Update(ctx, doc, msg.Version)
}

func (p *Processor) HandleDeleted(ctx context.Context, msg *models.EventDeletedMessage) error {
	p.logger.Debug("projecting deleted event",
		zap.String("event_id", msg.EventID),
	)
	return p.indexer.Delete(ctx, msg.EventID, msg.Version)
}

// ExtractCity derives the city from a free-text location. The last
// non-empty comma-separated segment is taken as the city; a location
// with no usable segment maps to "Unknown".
func ExtractCity(location string) string {
	segments := strings.Split(location, ",")
	for i := len(segments) - 1; i >= 0; i-- {
		if city := strings.TrimSpace(segments[i]); city != "" {
			return city
		}
	}
	return "Unknown"
}

// initialPopularity seeds a fresh document with a bounded score that
// decays with age, so recent listings surface in popularity sorts
// before any view or booking activity accrues.
func initialPopularity(createdAt time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	ageDays := time.Since(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 10 * math.Exp(-ageDays/30)
}
