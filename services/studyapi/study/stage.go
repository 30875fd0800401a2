// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package study

// Stage is a named step in the study flow.
type Stage string

const (
	StageConsent        Stage = "consent"
	StageIntro          Stage = "intro"
	StageIntroSurvey    Stage = "intro-survey"
	StageStartTask      Stage = "start-task"
	StageTask           Stage = "task"
	StagePostTaskSurvey Stage = "post-task-survey"
	StageFinal          Stage = "final"
)

// stages is the fixed order participants move through.
var stages = []Stage{
	StageConsent,
	StageIntro,
	StageIntroSurvey,
	StageStartTask,
	StageTask,
	StagePostTaskSurvey,
	StageFinal,
}

var stageIndex = func() map[Stage]int {
	idx := make(map[Stage]int, len(stages))
	for i, s := range stages {
		idx[s] = i
	}
	return idx
}()

// Stages returns a copy of the ordered stage list.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// IsStage reports whether name is a known stage.
func IsStage(name string) bool {
	_, ok := stageIndex[Stage(name)]
	return ok
}

// NextPage returns the stage after current.
//
// The boolean is false when current is the terminal stage or not a stage at
// all.
func NextPage(current Stage) (Stage, bool) {
	i, ok := stageIndex[current]
	if !ok || i+1 >= len(stages) {
		return "", false
	}
	return stages[i+1], true
}

// PrevPage returns the stage before current, false for the first stage or an
// unknown one.
func PrevPage(current Stage) (Stage, bool) {
	i, ok := stageIndex[current]
	if !ok || i == 0 {
		return "", false
	}
	return stages[i-1], true
}

// IsTerminal reports whether s is the last stage.
func (s Stage) IsTerminal() bool {
	return s == stages[len(stages)-1]
}

// IsSurvey reports whether the stage collects a questionnaire.
func (s Stage) IsSurvey() bool {
	return s == StageIntroSurvey || s == StagePostTaskSurvey
}
