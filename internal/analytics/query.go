package analytics

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/export"
)

// RawFeedQuery holds the feed parameters exactly as received. Empty strings
// mean "not supplied".
type RawFeedQuery struct {
	StartDate string `query:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `query:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Category  string `query:"category" validate:"max=255"`
	Limit     string `query:"limit" validate:"omitempty,number"`
	Format    string `query:"format" validate:"omitempty,max=16"`
}

// FeedQuery is a validated feed request.
type FeedQuery struct {
	Range    domain.DateRange
	Category *string
	// Limit caps the number of rows; zero means no limit.
	Limit  int
	Format export.Format
}

// KPIQuery is a validated KPI request.
type KPIQuery struct {
	Range    domain.DateRange
	Category *string
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// ParseFeedQuery validates raw parameters and applies the configured defaults.
// Every failure is a *domain.ValidationError.
func (s *Service) ParseFeedQuery(raw RawFeedQuery) (FeedQuery, error) {
	if err := s.validate.Struct(raw); err != nil {
		return FeedQuery{}, validationError(err)
	}

	r, err := s.dateRange(raw.StartDate, raw.EndDate)
	if err != nil {
		return FeedQuery{}, err
	}

	q := FeedQuery{Range: r, Category: optional(raw.Category)}

	if raw.Limit != "" {
		limit, err := strconv.Atoi(raw.Limit)
		if err != nil || limit <= 0 {
			return FeedQuery{}, domain.NewValidationError("limit", "must be a positive integer")
		}
		if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
			return FeedQuery{}, domain.NewValidationError("limit", fmt.Sprintf("must not exceed %d", s.cfg.MaxLimit))
		}
		q.Limit = limit
	}

	q.Format, err = export.ParseFormat(raw.Format)
	if err != nil {
		return FeedQuery{}, err
	}
	return q, nil
}

// ParseKPIQuery validates the date range and category of a KPI request.
func (s *Service) ParseKPIQuery(startDate, endDate, category string) (KPIQuery, error) {
	raw := RawFeedQuery{StartDate: startDate, EndDate: endDate, Category: category}
	if err := s.validate.Struct(raw); err != nil {
		return KPIQuery{}, validationError(err)
	}
	r, err := s.dateRange(startDate, endDate)
	if err != nil {
		return KPIQuery{}, err
	}
	return KPIQuery{Range: r, Category: optional(category)}, nil
}

func (s *Service) dateRange(start, end string) (domain.DateRange, error) {
	r := domain.DateRange{Start: s.cfg.DefaultStart, End: s.cfg.DefaultEnd}
	if start != "" {
		d, err := domain.ParseDate(start)
		if err != nil {
			return domain.DateRange{}, domain.NewValidationError("start_date", err.Error())
		}
		r.Start = d
	}
	if end != "" {
		d, err := domain.ParseDate(end)
		if err != nil {
			return domain.DateRange{}, domain.NewValidationError("end_date", err.Error())
		}
		r.End = d
	}
	return r, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("query", err.Error())
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "datetime":
		return domain.NewValidationError(fe.Field(), fmt.Sprintf("%q is not a YYYY-MM-DD date", fe.Value()))
	case "number":
		return domain.NewValidationError(fe.Field(), "must be a positive integer")
	case "max":
		return domain.NewValidationError(fe.Field(), "is too long")
	default:
		return domain.NewValidationError(fe.Field(), fmt.Sprintf("failed %q check", fe.Tag()))
	}
}
