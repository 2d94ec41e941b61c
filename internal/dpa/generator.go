package dpa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// FormFiller fills the agreement template's form fields with pdfcpu.
// Templates live next to the generated documents, one per language
// (dpa_base_<lang>.pdf), falling back to English.
type FormFiller struct {
	files *Files
}

// NewFormFiller constructs a FormFiller writing into the Files directory.
func NewFormFiller(files *Files) *FormFiller {
	return &FormFiller{files: files}
}

func (g *FormFiller) templatePath(language string) string {
	if language != "" {
		p := filepath.Join(g.files.dir, "dpa_base_"+language+".pdf")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(g.files.dir, "dpa_base_en.pdf")
}

type formField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Locked bool   `json:"locked"`
}

// Generate fills the template and writes the document under fileID.
func (g *FormFiller) Generate(doc Document, date string, fileID string) error {
	fields := []formField{
		{Name: "name", Value: strings.ToUpper(doc.Name), Locked: true},
		{Name: "name_sign", Value: doc.Name, Locked: true},
		{Name: "located_1", Value: doc.Located1, Locked: true},
		{Name: "located_2", Value: doc.Located2, Locked: true},
		{Name: "represented", Value: strings.ToUpper(doc.Represented), Locked: true},
		{Name: "represented_sign", Value: doc.Represented, Locked: true},
		{Name: "identification", Value: doc.Identification, Locked: true},
		{Name: "date", Value: date, Locked: true},
	}
	form, errMarshal := json.Marshal(map[string]any{
		"forms": []map[string]any{{"textfield": fields}},
	})
	if errMarshal != nil {
		return fmt.Errorf("dpa: marshal form data: %w", errMarshal)
	}

	dataPath := filepath.Join(g.files.dir, fileID+".form.json")
	if errWrite := os.WriteFile(dataPath, form, 0600); errWrite != nil {
		return fmt.Errorf("dpa: write form data: %w", errWrite)
	}
	defer os.Remove(dataPath)

	out := g.files.Path(fileID)
	if errFill := api.FillFormFile(g.templatePath(doc.Language), dataPath, out, nil); errFill != nil {
		return fmt.Errorf("dpa: fill template: %w", errFill)
	}
	return nil
}

// Remove deletes a generated document.
func (g *FormFiller) Remove(fileID string) error {
	if err := os.Remove(g.files.Path(fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dpa: remove document: %w", err)
	}
	return nil
}
