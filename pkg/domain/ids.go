package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Typed identifiers for the core entities. Using distinct types keeps a
// certificate id from being passed where a device hash belongs; the compiler
// enforces what code review would otherwise have to catch.

// CertificateID identifies a garment certificate tag.
// Format: CERT-<batch code>-<12 uppercase hex>, e.g. CERT-B26A001-3F9C02D1AB44.
type CertificateID string

// SubmissionID identifies a single scan attempt. Submissions are client-minted
// UUIDs so that retries of the same attempt are idempotent.
type SubmissionID string

// DeviceHash is the one-way SHA-256 hash of device-identifying fields.
// Raw fingerprint material never leaves the synchronous pipeline.
type DeviceHash string

// BatchCode identifies a production batch: B<yy><factory><seq3>, e.g. B26A001.
type BatchCode string

// SerialNumber is the human-readable serial printed under the tag:
// SK-<12 uppercase hex>.
type SerialNumber string

var (
	certIDPattern    = regexp.MustCompile(`^CERT-B[0-9]{2}[A-Z]{1,3}[0-9]{3}-[0-9A-F]{12}$`)
	batchCodePattern = regexp.MustCompile(`^B[0-9]{2}[A-Z]{1,3}[0-9]{3}$`)
	deviceHashHex    = regexp.MustCompile(`^[0-9a-f]{64}$`)
	serialPattern    = regexp.MustCompile(`^SK-[0-9A-F]{12}$`)
)

// ParseCertificateID validates and returns a CertificateID.
func ParseCertificateID(s string) (CertificateID, error) {
	if s == "" {
		return "", fmt.Errorf("certificate id cannot be empty")
	}
	if !certIDPattern.MatchString(s) {
		return "", fmt.Errorf("invalid certificate id format: %s", s)
	}
	return CertificateID(s), nil
}

// Batch extracts the batch code component of the certificate id.
func (c CertificateID) Batch() BatchCode {
	parts := strings.SplitN(string(c), "-", 3)
	if len(parts) != 3 {
		return ""
	}
	return BatchCode(parts[1])
}

func (c CertificateID) String() string { return string(c) }
func (c CertificateID) IsNil() bool    { return c == "" }

// ParseSubmissionID validates and returns a SubmissionID.
// Submission ids must be non-nil UUIDs.
func ParseSubmissionID(s string) (SubmissionID, error) {
	if s == "" {
		return "", fmt.Errorf("submission id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid submission id: %w", err)
	}
	if u == uuid.Nil {
		return "", fmt.Errorf("submission id cannot be the nil UUID")
	}
	return SubmissionID(u.String()), nil
}

// NewSubmissionID mints a fresh submission id. Handlers use this only when a
// client neglects to supply one; idempotent retries require client-minted ids.
func NewSubmissionID() SubmissionID {
	return SubmissionID(uuid.NewString())
}

func (s SubmissionID) String() string { return string(s) }
func (s SubmissionID) IsNil() bool    { return s == "" }

// ParseDeviceHash validates a hex-encoded SHA-256 device hash.
func ParseDeviceHash(s string) (DeviceHash, error) {
	if s == "" {
		return "", fmt.Errorf("device hash cannot be empty")
	}
	if !deviceHashHex.MatchString(s) {
		return "", fmt.Errorf("device hash must be 64 lowercase hex characters")
	}
	return DeviceHash(s), nil
}

func (d DeviceHash) String() string { return string(d) }
func (d DeviceHash) IsNil() bool    { return d == "" }

// ParseBatchCode validates and returns a BatchCode.
func ParseBatchCode(s string) (BatchCode, error) {
	if !batchCodePattern.MatchString(s) {
		return "", fmt.Errorf("invalid batch code format: %s", s)
	}
	return BatchCode(s), nil
}

func (b BatchCode) String() string { return string(b) }

// ParseSerialNumber validates and returns a SerialNumber.
func ParseSerialNumber(s string) (SerialNumber, error) {
	if !serialPattern.MatchString(s) {
		return "", fmt.Errorf("invalid serial number format: %s", s)
	}
	return SerialNumber(s), nil
}

func (s SerialNumber) String() string { return string(s) }
