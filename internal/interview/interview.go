// Package interview drives the staged live interview.
package interview

import (
	"strings"

	"genai-assessor/internal/workflow"
)

type Stage string

const (
	StageInitial       Stage = "initial"
	StageDeepDive      Stage = "deep_dive"
	StageClarification Stage = "clarification"
	StageWrapUp        Stage = "wrap_up"
)

var stages = []Stage{StageInitial, StageDeepDive, StageClarification, StageWrapUp}

// Next advances one stage. wrap_up stays at wrap_up and an unknown stage
// restarts at initial.
func Next(s Stage) Stage {
	for i, st := range stages {
		if st != s {
			continue
		}
		if i < len(stages)-1 {
			return stages[i+1]
		}
		return StageWrapUp
	}
	return StageInitial
}

var (
	initialPrompt = &workflow.Workflow{Name: "interview_initial", PromptTemplate: `
You are conducting a live technical interview for a student. Here is the problem statement:

{problem_statement}

Key concepts to assess: {key_concepts}

The student has just been shown the problem. Ask them to share their initial thoughts and approach.
Keep your response conversational and encouraging. Don't give away solutions.
`}

	deepDivePrompt = &workflow.Workflow{Name: "interview_deep_dive", PromptTemplate: `
You are conducting a live technical interview. The student has shared their initial thoughts:

Student's response: {student_input}

Key concepts to assess: {key_concepts}

Ask a follow-up question to dig deeper into their understanding of one of the key concepts they haven't fully addressed yet.
Be encouraging but probe for deeper technical understanding.
`}

	followUpPrompt = &workflow.Workflow{Name: "interview_follow_up", PromptTemplate: `
You are conducting a live technical interview. Continue the conversation based on the student's latest response:

Student's response: {student_input}

Key concepts to assess: {key_concepts}

Ask a thoughtful follow-up question that helps assess their understanding of the remaining concepts.
`}
)

// Prompt builds the interviewer prompt for stage. Stages past deep_dive,
// and unknown ones, share the follow-up prompt.
func Prompt(problem string, concepts []string, stage Stage, studentInput string) (string, error) {
	wf := followUpPrompt
	switch stage {
	case StageInitial:
		wf = initialPrompt
	case StageDeepDive:
		wf = deepDivePrompt
	}
	return workflow.Compose(wf, map[string]string{
		"problem_statement": problem,
		"key_concepts":      strings.Join(concepts, ", "),
		"student_input":     studentInput,
	}, nil)
}
