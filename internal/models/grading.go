package models

// GradeRule maps an inclusive integer score band to a grade.
type GradeRule struct {
	TenantID string  `db:"tenant_id" json:"-"`
	MinScore int     `db:"min_score" json:"min_score"`
	MaxScore int     `db:"max_score" json:"max_score"`
	Grade    string  `db:"grade" json:"grade"`
	Remark   string  `db:"remark" json:"remark"`
	Points   float64 `db:"points" json:"points"`
}

// DefaultGradingScheme returns the WAEC-style table used when a tenant has none configured.
func DefaultGradingScheme() []GradeRule {
	return []GradeRule{
		{MinScore: 75, MaxScore: 100, Grade: "A1", Remark: "Excellent", Points: 4.0},
		{MinScore: 70, MaxScore: 74, Grade: "B2", Remark: "Very Good", Points: 3.5},
		{MinScore: 65, MaxScore: 69, Grade: "B3", Remark: "Good", Points: 3.0},
		{MinScore: 60, MaxScore: 64, Grade: "C4", Remark: "Credit", Points: 2.5},
		{MinScore: 55, MaxScore: 59, Grade: "C5", Remark: "Credit", Points: 2.0},
		{MinScore: 50, MaxScore: 54, Grade: "C6", Remark: "Credit", Points: 1.5},
		{MinScore: 45, MaxScore: 49, Grade: "D7", Remark: "Pass", Points: 1.0},
		{MinScore: 40, MaxScore: 44, Grade: "E8", Remark: "Pass", Points: 0.5},
		{MinScore: 0, MaxScore: 39, Grade: "F9", Remark: "Fail", Points: 0.0},
	}
}

// GradingScheme is the rule table in effect for a tenant.
type GradingScheme struct {
	TenantID  string      `json:"tenant_id"`
	IsDefault bool        `json:"is_default"`
	Rules     []GradeRule `json:"rules"`
}
