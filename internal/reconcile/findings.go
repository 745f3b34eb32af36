package reconcile

// Severity grades a finding. Garden-health findings are always warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Category names the detection pass a finding came from.
type Category string

const (
	CategoryConsistency Category = "consistency"
	CategoryIntegrity   Category = "integrity"
	CategoryGraph       Category = "graph"
	CategoryStructure   Category = "structure"
	CategoryHealth      Category = "health"
)

// Finding is one detected disagreement between the files and the derived
// stores. Findings are data, never errors: check() reports them and returns.
type Finding struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	RecordID string   `json:"record_id,omitempty"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
}

// CheckReport is the data payload of a check operation.
type CheckReport struct {
	Findings []Finding `json:"findings"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
}

func report(findings []Finding) CheckReport {
	rep := CheckReport{Findings: findings}
	if rep.Findings == nil {
		rep.Findings = []Finding{}
	}
	for _, f := range findings {
		if f.Severity == SeverityError {
			rep.Errors++
		} else {
			rep.Warnings++
		}
	}
	return rep
}
