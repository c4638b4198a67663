package models

import "time"

type FeatureStatus string

const (
	FeatureStatusBacklog       FeatureStatus = "backlog"
	FeatureStatusInDevelopment FeatureStatus = "in_development"
	FeatureStatusInTesting     FeatureStatus = "in_testing"
	FeatureStatusApproved      FeatureStatus = "approved"
	FeatureStatusReleased      FeatureStatus = "released"
)

var FeatureStatuses = []FeatureStatus{
	FeatureStatusBacklog,
	FeatureStatusInDevelopment,
	FeatureStatusInTesting,
	FeatureStatusApproved,
	FeatureStatusReleased,
}

func (s FeatureStatus) Rank() int {
	for i, st := range FeatureStatuses {
		if st == s {
			return i
		}
	}
	return -1
}

func (s FeatureStatus) Valid() bool {
	return s.Rank() >= 0
}

func (s FeatureStatus) AtLeast(other FeatureStatus) bool {
	return s.Valid() && s.Rank() >= other.Rank()
}

type TestCaseStatus string

const (
	TestCasePending TestCaseStatus = "pending"
	TestCasePassed  TestCaseStatus = "passed"
	TestCaseFailed  TestCaseStatus = "failed"
)

type UserFlow struct {
	Step             int      `json:"step"`
	Description      string   `json:"description"`
	RelatedEntityIDs []string `json:"related_entity_ids"`
}

type TestCase struct {
	ID             string         `json:"id"`
	Description    string         `json:"description"`
	ExpectedResult string         `json:"expected_result"`
	Status         TestCaseStatus `json:"status"`
}

type Feature struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	ModuleID    string        `json:"module_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      FeatureStatus `json:"status"`
	UserFlows   []UserFlow    `json:"user_flows"`
	TestCases   []TestCase    `json:"test_cases"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
