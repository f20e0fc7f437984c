package sessions

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// MaxDocumentBytes is the per-file upload ceiling.
const MaxDocumentBytes = 50 << 20 // 50 MiB

var pdfMagic = []byte("%PDF-")

// UploadFile is the validated input to RegisterUpload. Content holds the
// full file body; the transport layer caps request size before it gets
// here.
type UploadFile struct {
	FileName string
	Content  []byte
}

// validateUploadFile rejects empty, oversized, or non-PDF payloads. It
// runs before any state is created, so a failing file leaves no session
// behind.
func validateUploadFile(f UploadFile) error {
	if f.FileName == "" {
		return fmt.Errorf("%w: file name is required", ErrValidation)
	}
	size := int64(len(f.Content))
	if size == 0 {
		return fmt.Errorf("%w: file %q is empty", ErrValidation, f.FileName)
	}
	if size > MaxDocumentBytes {
		return fmt.Errorf("%w: file %q exceeds %d bytes", ErrValidation, f.FileName, int64(MaxDocumentBytes))
	}
	if !bytes.HasPrefix(f.Content, pdfMagic) {
		return fmt.Errorf("%w: file %q is not a PDF", ErrValidation, f.FileName)
	}
	if _, err := pdf.NewReader(bytes.NewReader(f.Content), size); err != nil {
		return fmt.Errorf("%w: file %q is not a readable PDF", ErrValidation, f.FileName)
	}
	return nil
}

// ValidateUploadFiles applies validateUploadFile to every file,
// all-or-nothing per request.
func ValidateUploadFiles(files []UploadFile) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: at least one file is required", ErrValidation)
	}
	for _, f := range files {
		if err := validateUploadFile(f); err != nil {
			return err
		}
	}
	return nil
}
