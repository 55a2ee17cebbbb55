// Package models defines the issued-tag registry records.
package models

import (
	"time"

	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
)

// TagRecord is the issuance-side record of one printed tag. It keeps only
// digests of the pattern secrets; the secrets themselves exist transiently at
// print time and are never stored.
type TagRecord struct {
	CertificateID   id.CertificateID `json:"certificate_id"`
	SerialNumber    id.SerialNumber  `json:"serial_number"`
	BatchCode       id.BatchCode     `json:"batch_code"`
	GuillocheDigest string           `json:"guilloche_digest"`
	BorderDigest    string           `json:"border_digest"`
	VerifyURL       string           `json:"verify_url"`
	IssuedAt        time.Time        `json:"issued_at"`
}

// NewTagRecord creates a TagRecord with invariant validation.
func NewTagRecord(certID id.CertificateID, serial id.SerialNumber, guillocheDigest, borderDigest, verifyURL string, issuedAt time.Time) (*TagRecord, error) {
	if certID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}
	if serial == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "serial number is required")
	}
	if guillocheDigest == "" || borderDigest == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "pattern digests are required")
	}
	if issuedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issued_at is required")
	}
	return &TagRecord{
		CertificateID:   certID,
		SerialNumber:    serial,
		BatchCode:       certID.Batch(),
		GuillocheDigest: guillocheDigest,
		BorderDigest:    borderDigest,
		VerifyURL:       verifyURL,
		IssuedAt:        issuedAt,
	}, nil
}
