package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeStep(id, automationID string, stepType StepType, position int, parent, branch *string) *AutomationStep {
	return &AutomationStep{
		ID:           id,
		AutomationID: automationID,
		Type:         stepType,
		Position:     position,
		ParentStepID: parent,
		Branch:       branch,
	}
}

func strPtr(s string) *string {
	return &s
}

// linearForest builds root(add_tag) -> sibling(send_email) -> sibling(exit).
func linearForest() []*AutomationStep {
	return []*AutomationStep{
		makeStep("s1", "a1", StepTypeAddTag, 0, nil, nil),
		makeStep("s2", "a1", StepTypeSendEmail, 1, nil, nil),
		makeStep("s3", "a1", StepTypeExit, 2, nil, nil),
	}
}

// conditionForest builds a condition root with a yes child and a no child,
// plus a trailing root sibling.
func conditionForest() []*AutomationStep {
	return []*AutomationStep{
		makeStep("cond", "a1", StepTypeCondition, 0, nil, nil),
		makeStep("yes1", "a1", StepTypeAddTag, 0, strPtr("cond"), strPtr(BranchYes)),
		makeStep("yes2", "a1", StepTypeSendEmail, 1, strPtr("cond"), strPtr(BranchYes)),
		makeStep("no1", "a1", StepTypeExit, 0, strPtr("cond"), strPtr(BranchNo)),
		makeStep("tail", "a1", StepTypeAddTag, 1, nil, nil),
	}
}

func TestNewStepTree_OrdersByPosition(t *testing.T) {
	steps := []*AutomationStep{
		makeStep("b", "a1", StepTypeAddTag, 2, nil, nil),
		makeStep("a", "a1", StepTypeAddTag, 1, nil, nil),
		makeStep("c", "a1", StepTypeAddTag, 3, nil, nil),
	}

	tree := NewStepTree(steps)

	roots := tree.RootSteps()
	require.Len(t, roots, 3)
	assert.Equal(t, "a", roots[0].ID)
	assert.Equal(t, "b", roots[1].ID)
	assert.Equal(t, "c", roots[2].ID)
}

func TestStepTree_CanActivate(t *testing.T) {
	assert.False(t, NewStepTree(nil).CanActivate())
	assert.True(t, NewStepTree(linearForest()).CanActivate())
}

func TestStepTree_NextSibling_SameBranchOnly(t *testing.T) {
	tree := NewStepTree(conditionForest())

	yes1, ok := tree.Step("yes1")
	require.True(t, ok)

	sibling := tree.NextSibling(yes1)
	require.NotNil(t, sibling)
	assert.Equal(t, "yes2", sibling.ID)

	no1, ok := tree.Step("no1")
	require.True(t, ok)
	assert.Nil(t, tree.NextSibling(no1))
}

func TestStepTree_NextStep_Linear(t *testing.T) {
	tree := NewStepTree(linearForest())

	s1, _ := tree.Step("s1")
	s2, _ := tree.Step("s2")
	s3, _ := tree.Step("s3")

	next := tree.NextStep(s1, "")
	require.NotNil(t, next)
	assert.Equal(t, "s2", next.ID)

	next = tree.NextStep(s2, "")
	require.NotNil(t, next)
	assert.Equal(t, "s3", next.ID)

	assert.Nil(t, tree.NextStep(s3, ""))
}

func TestStepTree_NextStep_ConditionBranches(t *testing.T) {
	tree := NewStepTree(conditionForest())

	cond, _ := tree.Step("cond")

	next := tree.NextStep(cond, BranchYes)
	require.NotNil(t, next)
	assert.Equal(t, "yes1", next.ID)

	next = tree.NextStep(cond, BranchNo)
	require.NotNil(t, next)
	assert.Equal(t, "no1", next.ID)
}

func TestStepTree_NextStep_EmptyBranchFallsThrough(t *testing.T) {
	steps := []*AutomationStep{
		makeStep("cond", "a1", StepTypeCondition, 0, nil, nil),
		makeStep("yes1", "a1", StepTypeAddTag, 0, strPtr("cond"), strPtr(BranchYes)),
		makeStep("tail", "a1", StepTypeExit, 1, nil, nil),
	}
	tree := NewStepTree(steps)

	cond, _ := tree.Step("cond")

	// No child carries the no branch; resolution falls through to the
	// condition's next sibling.
	next := tree.NextStep(cond, BranchNo)
	require.NotNil(t, next)
	assert.Equal(t, "tail", next.ID)
}

func TestStepTree_NextStep_AscendsToParentSibling(t *testing.T) {
	tree := NewStepTree(conditionForest())

	// yes2 is the last step of its branch; the walk ascends to the
	// condition step and resumes at its root sibling.
	yes2, _ := tree.Step("yes2")

	next := tree.NextStep(yes2, "")
	require.NotNil(t, next)
	assert.Equal(t, "tail", next.ID)
}

func TestStepTree_NextStep_Terminates(t *testing.T) {
	steps := conditionForest()
	tree := NewStepTree(steps)

	// From any starting step, repeated resolution must exhaust the tree
	// within the total step count.
	for _, start := range steps {
		current := start
		hops := 0

		for current != nil {
			require.LessOrEqual(t, hops, len(steps), "walk from %s did not terminate", start.ID)

			current = tree.NextStep(current, BranchYes)
			hops++
		}
	}
}

func TestValidateForest(t *testing.T) {
	tests := []struct {
		name    string
		steps   []*AutomationStep
		wantErr string
	}{
		{
			name:  "valid_linear",
			steps: linearForest(),
		},
		{
			name:  "valid_condition",
			steps: conditionForest(),
		},
		{
			name: "wrong_automation",
			steps: []*AutomationStep{
				makeStep("s1", "other", StepTypeAddTag, 0, nil, nil),
			},
			wantErr: "belongs to automation",
		},
		{
			name: "invalid_type",
			steps: []*AutomationStep{
				makeStep("s1", "a1", StepType("bogus"), 0, nil, nil),
			},
			wantErr: "invalid type",
		},
		{
			name: "duplicate_id",
			steps: []*AutomationStep{
				makeStep("s1", "a1", StepTypeAddTag, 0, nil, nil),
				makeStep("s1", "a1", StepTypeAddTag, 1, nil, nil),
			},
			wantErr: "duplicate step id",
		},
		{
			name: "unknown_parent",
			steps: []*AutomationStep{
				makeStep("s1", "a1", StepTypeAddTag, 0, strPtr("ghost"), nil),
			},
			wantErr: "unknown parent",
		},
		{
			name: "branch_under_non_condition",
			steps: []*AutomationStep{
				makeStep("s1", "a1", StepTypeAddTag, 0, nil, nil),
				makeStep("s2", "a1", StepTypeAddTag, 0, strPtr("s1"), strPtr(BranchYes)),
			},
			wantErr: "non-condition parent",
		},
		{
			name: "condition_child_without_branch",
			steps: []*AutomationStep{
				makeStep("cond", "a1", StepTypeCondition, 0, nil, nil),
				makeStep("s2", "a1", StepTypeAddTag, 0, strPtr("cond"), nil),
			},
			wantErr: "must carry branch",
		},
		{
			name: "root_with_branch",
			steps: []*AutomationStep{
				makeStep("s1", "a1", StepTypeAddTag, 0, nil, strPtr(BranchYes)),
			},
			wantErr: "must not carry a branch",
		},
		{
			name: "parent_cycle",
			steps: []*AutomationStep{
				makeStep("cond1", "a1", StepTypeCondition, 0, strPtr("cond2"), strPtr(BranchYes)),
				makeStep("cond2", "a1", StepTypeCondition, 1, strPtr("cond1"), strPtr(BranchYes)),
			},
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateForest("a1", tt.steps)

			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
