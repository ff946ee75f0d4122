package audit

import (
	"context"
	"fmt"

	"github.com/aqarfund/aqar/internal/shared"
)

// MaxExportRows caps a single CSV export.
const MaxExportRows = 10000

// Service reads the audit log. It exposes no update or delete.
type Service struct {
	repo Repository
}

// NewService builds an audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns one page of entries, newest first.
func (s *Service) List(ctx context.Context, filters Filters) (Page, error) {
	if s.repo == nil {
		return Page{}, fmt.Errorf("audit: repository not configured")
	}
	if err := filters.Validate(); err != nil {
		return Page{}, err
	}
	page, pageSize := shared.NormalizePage(filters.Page, filters.PageSize)
	rows, err := s.repo.Window(ctx, filters, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return Page{}, err
	}
	paging := shared.NewPaging(page, pageSize, len(rows))
	if paging.HasNext {
		rows = rows[:pageSize]
	}
	return Page{Entries: rows, Paging: paging}, nil
}

// Export returns every matching entry up to MaxExportRows.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Window(ctx, filters, MaxExportRows, 0)
}
