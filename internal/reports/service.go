package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"photo-orders-bot/internal/models"
)

type Store interface {
	ListCompletedForReport(ctx context.Context) ([]models.ReportRow, error)
}

// Archive keeps a copy of every generated workbook.
type Archive interface {
	UploadReport(generatedAt time.Time, filename string, data []byte) (path string, url string, err error)
}

type Service struct {
	store   Store
	archive Archive
	now     func() time.Time
	logger  logrus.FieldLogger
}

// NewService builds the report service. archive may be nil.
func NewService(store Store, archive Archive, logger logrus.FieldLogger) *Service {
	return &Service{
		store:   store,
		archive: archive,
		now:     time.Now,
		logger:  logger.WithField("module", "reports"),
	}
}

// WithClock replaces the time source used for file names.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate returns the workbook file name and bytes. Archiving failures are
// logged and do not fail the report.
func (s *Service) Generate(ctx context.Context) (string, []byte, error) {
	rows, err := s.store.ListCompletedForReport(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load completed orders: %w", err)
	}

	f, err := Build(rows)
	if err != nil {
		return "", nil, err
	}
	return s.finish(f, "report", len(rows))
}

// GenerateFor builds the monthly report of the requester with the given
// Telegram id.
func (s *Service) GenerateFor(ctx context.Context, platformID int64) (string, []byte, error) {
	rows, err := s.store.ListCompletedForReport(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load completed orders: %w", err)
	}

	f, err := BuildRequester(rows, platformID)
	if err != nil {
		return "", nil, err
	}
	return s.finish(f, fmt.Sprintf("report_%d", platformID), len(rows))
}

func (s *Service) finish(f *excelize.File, prefix string, orders int) (string, []byte, error) {
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	data := buf.Bytes()

	generatedAt := s.now()
	stamp := generatedAt.Format("20060102_150405")
	name := fmt.Sprintf("%s_%s.xlsx", prefix, stamp)

	if s.archive != nil {
		archiveName := fmt.Sprintf("%s_%s_%s.xlsx", prefix, stamp, uuid.NewString())
		path, _, err := s.archive.UploadReport(generatedAt, archiveName, data)
		if err != nil {
			s.logger.WithError(err).Warn("failed to archive report")
		} else {
			s.logger.WithFields(logrus.Fields{"path": path, "orders": orders}).Info("report archived")
		}
	}

	return name, data, nil
}
