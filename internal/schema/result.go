package schema

// RiskLevel grades how unfavourable a clause or contract is for the weaker party.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// ClauseType is the closed set of clause categories an analysis may report.
type ClauseType string

const (
	ClausePaymentTerms         ClauseType = "payment_terms"
	ClauseScopeOfWork          ClauseType = "scope_of_work"
	ClauseIntellectualProperty ClauseType = "intellectual_property"
	ClauseTermination          ClauseType = "termination"
	ClauseWarranty             ClauseType = "warranty"
	ClauseConfidentiality      ClauseType = "confidentiality"
	ClauseLiability            ClauseType = "liability"
	ClauseDisputeResolution    ClauseType = "dispute_resolution"
	ClauseOther                ClauseType = "other"
)

// ClauseTypes returns every accepted clause type in rubric order.
func ClauseTypes() []ClauseType {
	return []ClauseType{
		ClausePaymentTerms,
		ClauseScopeOfWork,
		ClauseIntellectualProperty,
		ClauseTermination,
		ClauseWarranty,
		ClauseConfidentiality,
		ClauseLiability,
		ClauseDisputeResolution,
		ClauseOther,
	}
}

// AnalysisResult is the validated analysis contract shared with the web, mobile
// and report clients. Field names are part of the public JSON contract.
type AnalysisResult struct {
	OverallRiskLevel RiskLevel        `json:"overallRiskLevel"`
	OverallRiskScore int              `json:"overallRiskScore"`
	Summary          string           `json:"summary"`
	Clauses          []ClauseAnalysis `json:"clauses"`
	Improvements     []Improvement    `json:"improvements"`
	ContractType     *string          `json:"contractType,omitempty"`
	ContractParties  *ContractParties `json:"contractParties,omitempty"`
	MissingClauses   []string         `json:"missingClauses,omitempty"`
}

// ClauseAnalysis is one detected clause, in document order.
type ClauseAnalysis struct {
	ID           string     `json:"id"`
	OriginalText string     `json:"originalText"`
	ClauseType   ClauseType `json:"clauseType"`
	RiskLevel    RiskLevel  `json:"riskLevel"`
	RiskScore    int        `json:"riskScore"`
	Explanation  string     `json:"explanation"`
	Suggestion   string     `json:"suggestion"`
	RelevantLaw  string     `json:"relevantLaw"`
}

// Improvement is a ranked recommendation; lower priority values come first.
type Improvement struct {
	Priority      int    `json:"priority"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	SuggestedText string `json:"suggestedText"`
}

// ContractParties names the two sides of the contract.
type ContractParties struct {
	PartyA string `json:"partyA"`
	PartyB string `json:"partyB"`
}
