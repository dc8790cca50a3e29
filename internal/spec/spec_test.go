package spec

import (
	"strings"
	"testing"

	xerrors "ReportFlow/internal/errors"
)

func validSpec() Specification {
	return Specification{
		Inputs: []Input{{Path: "data/sales.csv", Name: "sales"}},
		Prompts: []Prompt{
			{File: "summary.njk", Name: "summary", Inputs: []string{"main", "stats"}},
		},
		Template: Template{File: "monthly.njk", Type: TemplateNJK},
	}
}

func TestSpecificationValidate(t *testing.T) {
	if err := validSpec().Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}

func TestSpecificationValidateAggregates(t *testing.T) {
	s := Specification{
		Inputs:  []Input{{Name: "sales"}},
		Prompts: []Prompt{{Inputs: []string{"main"}}},
	}
	err := s.Validate()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation code, got %v", err)
	}
	for _, fragment := range []string{"inputs[0]", "prompts[0]", "template"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("aggregated error missing %q: %v", fragment, err)
		}
	}
}

func TestSpecificationRejectsUnknownTemplateType(t *testing.T) {
	s := validSpec()
	s.Template.Type = "jinja2"
	err := s.Validate()
	if err == nil || !strings.Contains(err.Error(), "jinja2") {
		t.Fatalf("expected template type rejection, got %v", err)
	}
}

func TestMapValidateNamesReportType(t *testing.T) {
	m := Map{
		"monthly": validSpec(),
		"broken":  {},
	}
	err := m.Validate()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error must name the failing report type: %v", err)
	}
	if strings.Contains(err.Error(), "monthly:") {
		t.Fatalf("valid report type must not be reported: %v", err)
	}
}
