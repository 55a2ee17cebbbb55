// Package models defines the certificate registry records.
package models

import (
	"time"

	verification "skern/internal/verification/models"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
)

// Status is the certificate lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusRevoked
}

// Certificate is one issued garment certificate tag. FirstScanOrigin is
// set exactly once by the first accepted scan and never overwritten; it
// anchors all later impossible-travel checks.
type Certificate struct {
	ID              id.CertificateID         `json:"id"`
	BatchCode       id.BatchCode             `json:"batch_code"`
	SerialNumber    id.SerialNumber          `json:"serial_number"`
	ProductName     string                   `json:"product_name"`
	Status          Status                   `json:"status"`
	IssuedAt        time.Time                `json:"issued_at"`
	FirstScanOrigin *verification.ScanOrigin `json:"first_scan_origin,omitempty"`
	LastScanOrigin  *verification.ScanOrigin `json:"last_scan_origin,omitempty"`
	AcceptedScans   int                      `json:"accepted_scans"`
}

// NewCertificate creates a Certificate with invariant validation.
func NewCertificate(certID id.CertificateID, serial id.SerialNumber, productName string, issuedAt time.Time) (*Certificate, error) {
	if certID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}
	if serial == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "serial number is required")
	}
	if issuedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issued_at is required")
	}
	return &Certificate{
		ID:           certID,
		BatchCode:    certID.Batch(),
		SerialNumber: serial,
		ProductName:  productName,
		Status:       StatusActive,
		IssuedAt:     issuedAt,
	}, nil
}
