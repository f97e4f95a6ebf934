package errors

import (
	"fmt"
	"strings"
)

// SchemaMismatchError is returned when a staged file lacks columns a stage depends on.
type SchemaMismatchError struct {
	File    string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: missing required columns [%s]", e.File, strings.Join(e.Missing, ", "))
}

type UnsupportedModeError struct {
	Mode string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported load mode %q", e.Mode)
}

type UnsupportedBackendError struct {
	Type string
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("unsupported database type %q", e.Type)
}

type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported staging format %q", e.Format)
}

type InvalidPeriodError struct {
	Period string
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid period %q, expected YYYYqN", e.Period)
}

// DownloadError wraps any failure to retrieve or verify a period archive.
type DownloadError struct {
	Period string
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download archive for %s: %s", e.Period, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// DataQualityError is raised by the post-load consistency check.
type DataQualityError struct {
	Msg string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality check failed: %s", e.Msg)
}
