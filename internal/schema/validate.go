package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// wireResult mirrors AnalysisResult with loosely typed numbers so that the
// validator, not the JSON decoder, decides what an acceptable score is.
type wireResult struct {
	OverallRiskLevel string            `json:"overallRiskLevel" validate:"required,oneof=high medium low"`
	OverallRiskScore any               `json:"overallRiskScore" validate:"required,score"`
	Summary          string            `json:"summary" validate:"required"`
	Clauses          []wireClause      `json:"clauses" validate:"required,dive"`
	Improvements     []wireImprovement `json:"improvements" validate:"required,dive"`
	ContractType     *string           `json:"contractType"`
	ContractParties  *wireParties      `json:"contractParties" validate:"omitempty"`
	MissingClauses   []string          `json:"missingClauses"`
}

type wireClause struct {
	ID           string  `json:"id" validate:"required"`
	OriginalText *string `json:"originalText" validate:"required"`
	ClauseType   string  `json:"clauseType" validate:"required,oneof=payment_terms scope_of_work intellectual_property termination warranty confidentiality liability dispute_resolution other"`
	RiskLevel    string  `json:"riskLevel" validate:"required,oneof=high medium low"`
	RiskScore    any     `json:"riskScore" validate:"required,score"`
	Explanation  string  `json:"explanation" validate:"required"`
	Suggestion   string  `json:"suggestion" validate:"required"`
	RelevantLaw  *string `json:"relevantLaw" validate:"required"`
}

type wireImprovement struct {
	Priority      any     `json:"priority" validate:"required,priority"`
	Title         *string `json:"title" validate:"required"`
	Description   *string `json:"description" validate:"required"`
	SuggestedText *string `json:"suggestedText" validate:"required"`
}

type wireParties struct {
	PartyA *string `json:"partyA" validate:"required"`
	PartyB *string `json:"partyB" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "score", func(fl validator.FieldLevel) bool {
		n, ok := integralNumber(fl.Field())
		return ok && n >= 0 && n <= 100
	})
	mustRegister(v, "priority", func(fl validator.FieldLevel) bool {
		n, ok := integralNumber(fl.Field())
		return ok && n >= 1
	})
	v.RegisterStructValidation(uniqueClauseIDs, wireResult{})
	return v
}

// uniqueClauseIDs flags every clause whose id repeats an earlier one.
func uniqueClauseIDs(sl validator.StructLevel) {
	w := sl.Current().Interface().(wireResult)
	seen := make(map[string]struct{}, len(w.Clauses))
	for i, c := range w.Clauses {
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			sl.ReportError(c.ID, fmt.Sprintf("clauses[%d].id", i), "ID", "unique_id", "")
			continue
		}
		seen[c.ID] = struct{}{}
	}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("schema: register %s: %v", tag, err))
	}
}

// integralNumber accepts only JSON numbers (never numeric strings) whose value is whole.
func integralNumber(field reflect.Value) (float64, bool) {
	if !field.IsValid() || !field.CanInterface() {
		return 0, false
	}
	num, ok := field.Interface().(json.Number)
	if !ok {
		return 0, false
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	return f, true
}

// Validate checks an untyped JSON value against the analysis result contract and
// returns the typed result. It never clamps or coerces: any violation rejects the
// whole candidate with a *ValidationError listing every offending field.
func Validate(candidate any) (AnalysisResult, error) {
	obj, ok := candidate.(map[string]any)
	if !ok {
		return AnalysisResult{}, &ValidationError{Issues: []FieldIssue{{Path: "$", Reason: "must be a JSON object, got " + jsonKind(candidate)}}}
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return AnalysisResult{}, &ValidationError{Issues: []FieldIssue{{Path: "$", Reason: "not encodable as JSON: " + err.Error()}}}
	}

	var wire wireResult
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return AnalysisResult{}, &ValidationError{Issues: []FieldIssue{decodeIssue(err)}}
	}

	if err := validate.Struct(wire); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return AnalysisResult{}, &ValidationError{Issues: []FieldIssue{{Path: "$", Reason: err.Error()}}}
		}
		issues := make([]FieldIssue, 0, len(verrs))
		for _, fe := range verrs {
			issues = append(issues, FieldIssue{Path: fieldPath(fe.Namespace()), Reason: reason(fe)})
		}
		return AnalysisResult{}, &ValidationError{Issues: issues}
	}

	return wire.toResult(), nil
}

func decodeIssue(err error) FieldIssue {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		path := typeErr.Field
		if path == "" {
			path = "$"
		}
		return FieldIssue{Path: path, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type.String(), typeErr.Value)}
	}
	return FieldIssue{Path: "$", Reason: err.Error()}
}

// fieldPath drops the wire struct name validator prefixes to every namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.String {
			return "must be a non-empty string"
		}
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "score":
		return "must be an integer between 0 and 100"
	case "priority":
		return "must be a positive integer"
	case "unique_id":
		return "duplicate id"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (w wireResult) toResult() AnalysisResult {
	out := AnalysisResult{
		OverallRiskLevel: RiskLevel(w.OverallRiskLevel),
		OverallRiskScore: wholeNumber(w.OverallRiskScore),
		Summary:          w.Summary,
		Clauses:          make([]ClauseAnalysis, 0, len(w.Clauses)),
		Improvements:     make([]Improvement, 0, len(w.Improvements)),
		ContractType:     w.ContractType,
	}
	for _, c := range w.Clauses {
		out.Clauses = append(out.Clauses, ClauseAnalysis{
			ID:           c.ID,
			OriginalText: deref(c.OriginalText),
			ClauseType:   ClauseType(c.ClauseType),
			RiskLevel:    RiskLevel(c.RiskLevel),
			RiskScore:    wholeNumber(c.RiskScore),
			Explanation:  c.Explanation,
			Suggestion:   c.Suggestion,
			RelevantLaw:  deref(c.RelevantLaw),
		})
	}
	for _, imp := range w.Improvements {
		out.Improvements = append(out.Improvements, Improvement{
			Priority:      wholeNumber(imp.Priority),
			Title:         deref(imp.Title),
			Description:   deref(imp.Description),
			SuggestedText: deref(imp.SuggestedText),
		})
	}
	if w.ContractParties != nil {
		out.ContractParties = &ContractParties{
			PartyA: deref(w.ContractParties.PartyA),
			PartyB: deref(w.ContractParties.PartyB),
		}
	}
	if len(w.MissingClauses) > 0 {
		out.MissingClauses = append([]string(nil), w.MissingClauses...)
	}
	return out
}

// wholeNumber converts a value already accepted by the score/priority checks.
func wholeNumber(v any) int {
	num, _ := v.(json.Number)
	f, _ := num.Float64()
	return int(f)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
