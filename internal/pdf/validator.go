package pdf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrUnreadable marks every validation failure; callers classify with errors.Is.
var ErrUnreadable = errors.New("pdf unreadable")

// Validator handles PDF file validation operations
type Validator struct {
	maxFileSize int64
}

// ValidationResult is the outcome of ValidateFile.
type ValidationResult struct {
	Path    string `json:"path"`
	Valid   bool   `json:"valid"`
	Pages   int    `json:"pages,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewValidator creates a new PDF validator with the specified constraints
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{
		maxFileSize: maxFileSize,
	}
}

// ValidateFile reports whether path is a PDF the extractor can read. Validation
// problems end up in the result, never in a returned error.
func (v *Validator) ValidateFile(path string) *ValidationResult {
	result := &ValidationResult{
		Path:  path,
		Valid: false,
	}

	pages, err := v.validatePDFFile(path)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Valid = true
	result.Pages = pages
	return result
}

// Validate returns nil for a readable PDF and an error wrapping ErrUnreadable otherwise.
func (v *Validator) Validate(path string) error {
	_, err := v.validatePDFFile(path)
	return err
}

// validatePDFFile performs detailed validation on a PDF file and returns its page count
func (v *Validator) validatePDFFile(filePath string) (int, error) {
	if filePath == "" {
		return 0, unreadable("path cannot be empty")
	}

	fileInfo, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return 0, unreadable("file does not exist: %s", filePath)
	}
	if err != nil {
		return 0, unreadable("cannot access file: %v", err)
	}

	if fileInfo.IsDir() {
		return 0, unreadable("path is a directory, not a file: %s", filePath)
	}

	if !strings.HasSuffix(strings.ToLower(filePath), ".pdf") {
		return 0, unreadable("file is not a PDF: %s", filePath)
	}

	if fileInfo.Size() == 0 {
		return 0, unreadable("file is empty: %s", filePath)
	}

	if fileInfo.Size() > v.maxFileSize {
		return 0, unreadable("file too large: %d bytes (max: %d bytes)",
			fileInfo.Size(), v.maxFileSize)
	}

	// pdfcpu is stricter about the cross reference table than ledongthuc/pdf
	pages, err := pageCount(filePath)
	if err != nil {
		return 0, unreadable("invalid PDF structure: %v", err)
	}
	if pages < 1 {
		return 0, unreadable("PDF has no pages: %s", filePath)
	}

	f, _, err := pdf.Open(filePath)
	if err != nil {
		return 0, unreadable("invalid PDF file: %v", err)
	}
	defer f.Close()

	return pages, nil
}

func pageCount(filePath string) (int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(file, conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}

	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("failed to ensure page count: %w", err)
	}

	return ctx.PageCount, nil
}

func unreadable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnreadable, fmt.Sprintf(format, args...))
}
