package formtemplate

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"torg12-server/internal/cellref"
)

//go:embed torg12_header.yaml
var defaultStructure []byte

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("celladdr", func(fl validator.FieldLevel) bool {
		_, err := cellref.Parse(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("cellrange", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if !strings.Contains(s, ":") {
			return false
		}
		_, err := cellref.ParseArea(s)
		return err == nil
	})
	v.RegisterValidation("column", func(fl validator.FieldLevel) bool {
		_, err := cellref.ColumnNumber(fl.Field().String())
		return err == nil
	})
	return v
}

// Default returns the TORG-12 header structure shipped with the service.
func Default() *Structure {
	s, err := Parse(defaultStructure)
	if err != nil {
		panic(fmt.Sprintf("embedded template structure: %v", err))
	}
	return s
}

// LoadFile reads a structure from a YAML file.
func LoadFile(path string) (*Structure, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening template file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

// Load reads a structure from YAML.
func Load(r io.Reader) (*Structure, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML structure.
func Parse(data []byte) (*Structure, error) {
	var s Structure
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing YAML template: %w", err)
	}
	if s.Units == "" {
		s.Units = UnitsNative
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints and that every weight keyword is known.
func Validate(s *Structure) error {
	if s == nil {
		return fmt.Errorf("template is nil")
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("validating template: %w", err)
	}
	for _, c := range s.Cells {
		if c.Style == nil || c.Style.Border == nil {
			continue
		}
		if _, err := borderEdges(c.Style.Border); err != nil {
			return fmt.Errorf("validating template: cell %s: %w", c.Cell, err)
		}
	}
	return nil
}
