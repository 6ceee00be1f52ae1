package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

func samplePolicy() types.ScopePolicy {
	return types.ScopePolicy{
		AllowedPaths: []string{"pkg/auth"},
		DeniedPaths:  types.DefaultDeniedPaths,
		MaxFiles:     5,
		MaxLines:     200,
	}
}

func TestValidatePlanScopeRejectsEmptyFiles(t *testing.T) {
	err := ValidatePlanScope(Plan{RiskLevel: types.RiskLow}, samplePolicy(), types.CategoryFix, "")
	assert.ErrorIs(t, err, ErrPlanRejected)
}

func TestValidatePlanScopeRejectsTooManyFiles(t *testing.T) {
	plan := Plan{RiskLevel: types.RiskLow}
	for i := 0; i < 10; i++ {
		plan.FilesToTouch = append(plan.FilesToTouch, FileTouch{Path: "pkg/auth/x.go", Action: ActionModify})
	}
	err := ValidatePlanScope(plan, samplePolicy(), types.CategoryFix, "")
	assert.ErrorIs(t, err, ErrPlanRejected)
}

func TestValidatePlanScopeRejectsLineBudget(t *testing.T) {
	plan := Plan{
		RiskLevel:      types.RiskLow,
		EstimatedLines: 500,
		FilesToTouch:   []FileTouch{{Path: "pkg/auth/x.go", Action: ActionModify}},
	}
	err := ValidatePlanScope(plan, samplePolicy(), types.CategoryFix, "")
	assert.ErrorIs(t, err, ErrPlanRejected)
}

func TestValidatePlanScopeRejectsPathOutsideAllowed(t *testing.T) {
	plan := Plan{
		RiskLevel:    types.RiskLow,
		FilesToTouch: []FileTouch{{Path: "pkg/other/x.go", Action: ActionModify}},
	}
	err := ValidatePlanScope(plan, samplePolicy(), types.CategoryFix, "")
	assert.ErrorIs(t, err, ErrPlanRejected)
}

func TestValidatePlanScopeAcceptsValidPlan(t *testing.T) {
	plan := Plan{
		RiskLevel:      types.RiskLow,
		EstimatedLines: 50,
		FilesToTouch:   []FileTouch{{Path: "pkg/auth/x.go", Action: ActionModify}},
	}
	err := ValidatePlanScope(plan, samplePolicy(), types.CategoryFix, "")
	assert.NoError(t, err)
}

func TestEvaluatePlanHighRiskAlwaysBlocks(t *testing.T) {
	plan := Plan{RiskLevel: types.RiskHigh, FilesToTouch: []FileTouch{{Path: "pkg/auth/x.go"}}}
	outcome, _ := EvaluatePlan(plan, samplePolicy(), types.CategoryFix, "", 0)
	assert.Equal(t, PlanBlockedNeedsHuman, outcome)
}

func TestEvaluatePlanDocsSkipsPlanUnlessElevated(t *testing.T) {
	plan := Plan{RiskLevel: types.RiskLow}
	outcome, err := EvaluatePlan(plan, samplePolicy(), types.CategoryDocs, "", 0)
	require.NoError(t, err)
	assert.Equal(t, PlanApproved, outcome)
}

func TestEvaluatePlanFourthRejectionBlocks(t *testing.T) {
	badPlan := Plan{RiskLevel: types.RiskLow}
	outcome, _ := EvaluatePlan(badPlan, samplePolicy(), types.CategoryFix, "", 3)
	assert.Equal(t, PlanBlockedNeedsHuman, outcome)
}

func TestEvaluatePlanThirdRejectionStillRejects(t *testing.T) {
	badPlan := Plan{RiskLevel: types.RiskLow}
	outcome, _ := EvaluatePlan(badPlan, samplePolicy(), types.CategoryFix, "", 2)
	assert.Equal(t, PlanRejected, outcome)
}
