package models

import (
	"fmt"
	"sort"
)

// StepTree is an arena of one automation's steps keyed by id, with a
// parent index for ordered child lookup. All reads are pure; the tree is
// built once per executor pass from the loaded step rows.
type StepTree struct {
	steps    map[string]*AutomationStep
	children map[string][]*AutomationStep
	roots    []*AutomationStep
}

// NewStepTree builds a tree from an automation's steps. Children and roots
// are ordered by position.
func NewStepTree(steps []*AutomationStep) *StepTree {
	t := &StepTree{
		steps:    make(map[string]*AutomationStep, len(steps)),
		children: make(map[string][]*AutomationStep),
	}

	for _, step := range steps {
		t.steps[step.ID] = step

		if step.ParentStepID == nil {
			t.roots = append(t.roots, step)
		} else {
			t.children[*step.ParentStepID] = append(t.children[*step.ParentStepID], step)
		}
	}

	byPosition := func(list []*AutomationStep) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Position < list[j].Position
		})
	}

	byPosition(t.roots)

	for _, list := range t.children {
		byPosition(list)
	}

	return t
}

// Len returns the number of steps in the tree.
func (t *StepTree) Len() int {
	return len(t.steps)
}

// CanActivate reports whether the automation has at least one step.
func (t *StepTree) CanActivate() bool {
	return len(t.steps) > 0
}

// Step returns the step with the given id.
func (t *StepTree) Step(id string) (*AutomationStep, bool) {
	step, ok := t.steps[id]

	return step, ok
}

// RootSteps returns the parentless steps ordered by position.
func (t *StepTree) RootSteps() []*AutomationStep {
	return t.roots
}

// Children returns the step's children ordered by position.
func (t *StepTree) Children(step *AutomationStep) []*AutomationStep {
	return t.children[step.ID]
}

// ChildrenByBranch returns the step's children carrying the given branch
// label, ordered by position.
func (t *StepTree) ChildrenByBranch(step *AutomationStep, branch string) []*AutomationStep {
	var matched []*AutomationStep

	for _, child := range t.children[step.ID] {
		if child.BranchLabel() == branch {
			matched = append(matched, child)
		}
	}

	return matched
}

// NextSibling returns the step with the same parent and branch whose
// position is the smallest one greater than step's, or nil.
func (t *StepTree) NextSibling(step *AutomationStep) *AutomationStep {
	siblings := t.roots
	if step.ParentStepID != nil {
		siblings = t.children[*step.ParentStepID]
	}

	for _, sibling := range siblings {
		if sibling.Position > step.Position && sibling.BranchLabel() == step.BranchLabel() {
			return sibling
		}
	}

	return nil
}

// NextStep resolves the step that follows the just-executed one. For a
// condition step, branch selects the first child on the evaluated outcome;
// when that branch is empty, or for any other step type, resolution falls
// through to the next sibling and then ascends parent by parent. A nil
// result means the tree is exhausted and the enrollment is complete. The
// walk terminates because the forest has no cycles and every ascent moves
// strictly toward a root.
func (t *StepTree) NextStep(step *AutomationStep, branch string) *AutomationStep {
	if step.Type == StepTypeCondition {
		if children := t.ChildrenByBranch(step, branch); len(children) > 0 {
			return children[0]
		}
	}

	current := step
	for current != nil {
		if sibling := t.NextSibling(current); sibling != nil {
			return sibling
		}

		if current.ParentStepID == nil {
			return nil
		}

		current = t.steps[*current.ParentStepID]
	}

	return nil
}

// ValidateForest checks the structural invariants of an automation's steps
// on write: every step belongs to the automation, parents resolve within it,
// branch labels appear only under condition steps and are yes/no, and the
// ancestor chain of every step terminates at a root (no cycles).
func ValidateForest(automationID string, steps []*AutomationStep) error {
	byID := make(map[string]*AutomationStep, len(steps))

	for _, step := range steps {
		if step.AutomationID != automationID {
			return fmt.Errorf("step %s belongs to automation %s, not %s", step.ID, step.AutomationID, automationID)
		}

		if !step.Type.IsValid() {
			return fmt.Errorf("step %s has invalid type %q", step.ID, step.Type)
		}

		if _, dup := byID[step.ID]; dup {
			return fmt.Errorf("duplicate step id %s", step.ID)
		}

		byID[step.ID] = step
	}

	for _, step := range steps {
		if step.ParentStepID != nil {
			parent, ok := byID[*step.ParentStepID]
			if !ok {
				return fmt.Errorf("step %s references unknown parent %s", step.ID, *step.ParentStepID)
			}

			if step.Branch != nil && parent.Type != StepTypeCondition {
				return fmt.Errorf("step %s carries branch %q under non-condition parent %s", step.ID, *step.Branch, parent.ID)
			}

			if parent.Type == StepTypeCondition {
				if step.Branch == nil || (*step.Branch != BranchYes && *step.Branch != BranchNo) {
					return fmt.Errorf("step %s under condition %s must carry branch yes or no", step.ID, parent.ID)
				}
			}
		} else if step.Branch != nil {
			return fmt.Errorf("root step %s must not carry a branch label", step.ID)
		}
	}

	// Ancestor chains must terminate at a root within len(steps) hops.
	for _, step := range steps {
		current := step
		for hops := 0; current.ParentStepID != nil; hops++ {
			if hops >= len(steps) {
				return fmt.Errorf("step %s is part of a parent cycle", step.ID)
			}

			current = byID[*current.ParentStepID]
		}
	}

	return nil
}
