// Package dpa handles the files behind data-processing agreements. The
// actual form filling is an external concern consumed through Generator;
// this package owns the on-disk bookkeeping for generated and signed
// copies.
package dpa

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Document holds the company identity fields printed into an agreement.
type Document struct {
	Name           string // Company name.
	Represented    string // Representative.
	Located1       string // Address line 1.
	Located2       string // Address line 2.
	Identification string // Registration / VAT identifier.
	Language       string
}

// Generator produces and removes filled agreement documents.
type Generator interface {
	// Generate fills the legal document template and writes it under the
	// given file id.
	Generate(doc Document, date string, fileID string) error
	// Remove deletes a generated document.
	Remove(fileID string) error
}

// Files resolves and moves agreement files inside the DPA directory.
type Files struct {
	dir string
}

// NewFiles constructs a Files helper rooted at dir.
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// Path returns the location of the generated (unsigned) document.
func (f *Files) Path(fileID string) string {
	return filepath.Join(f.dir, fileID+".pdf")
}

// SignedPath returns the location of the uploaded signed copy.
func (f *Files) SignedPath(fileID string) string {
	return filepath.Join(f.dir, fileID+"_signed.pdf")
}

// StoreSigned moves an uploaded file into place as the signed copy.
func (f *Files) StoreSigned(uploadPath, fileID string) error {
	dst := f.SignedPath(fileID)
	if err := os.Rename(uploadPath, dst); err != nil {
		return fmt.Errorf("dpa: store signed copy: %w", err)
	}
	return nil
}

// Discard deletes an uploaded temp file, logging failures only.
func (f *Files) Discard(uploadPath string) {
	if uploadPath == "" {
		return
	}
	if err := os.Remove(uploadPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("dpa: discard upload %s failed", uploadPath)
	}
}

// RemoveSigned deletes the signed copy, logging failures only.
func (f *Files) RemoveSigned(fileID string) {
	if err := os.Remove(f.SignedPath(fileID)); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("dpa: remove signed copy %s failed", fileID)
	}
}
