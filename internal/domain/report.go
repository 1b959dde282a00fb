package domain

import (
	"errors"
	"fmt"
)

type ReportKind string

const (
	ReportInspection  ReportKind = "inspection"
	ReportCalibration ReportKind = "calibration"
	ReportLoadTest    ReportKind = "load_test"
	ReportTraining    ReportKind = "training"
)

// ParseReportKind accepts the canonical report kind names.
func ParseReportKind(s string) (ReportKind, error) {
	switch k := ReportKind(s); k {
	case ReportInspection, ReportCalibration, ReportLoadTest, ReportTraining:
		return k, nil
	}
	return "", fmt.Errorf("unknown report kind %q", s)
}

type CheckResult string

const (
	CheckPass CheckResult = "pass"
	CheckFail CheckResult = "fail"
	CheckNA   CheckResult = "n/a"
)

type Equipment struct {
	ID           string `json:"id,omitempty"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturer,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

type ChecklistItem struct {
	Item   string      `json:"item"`
	Result CheckResult `json:"result" enum:"pass,fail,n/a"`
	Remark string      `json:"remark,omitempty"`
}

type InspectionReport struct {
	Equipment     Equipment       `json:"equipment"`
	Checklist     []ChecklistItem `json:"checklist"`
	Findings      []string        `json:"findings,omitempty"`
	OverallResult CheckResult     `json:"overallResult" enum:"pass,fail,n/a"`
}

type Reading struct {
	Nominal   float64 `json:"nominal"`
	Measured  float64 `json:"measured"`
	Tolerance float64 `json:"tolerance"`
}

// Within reports whether the reading deviates no more than its tolerance.
func (r Reading) Within() bool {
	d := r.Measured - r.Nominal
	if d < 0 {
		d = -d
	}
	return d <= r.Tolerance
}

type CalibrationReport struct {
	Instrument        Equipment   `json:"instrument"`
	ReferenceStandard string      `json:"referenceStandard"`
	Readings          []Reading   `json:"readings"`
	OverallResult     CheckResult `json:"overallResult" enum:"pass,fail,n/a"`
}

type LoadTestReport struct {
	Equipment       Equipment   `json:"equipment"`
	SafeWorkingLoad float64     `json:"safeWorkingLoad"`
	TestLoad        float64     `json:"testLoad"`
	DurationMinutes int         `json:"durationMinutes"`
	Deflection      float64     `json:"deflection,omitempty"`
	OverallResult   CheckResult `json:"overallResult" enum:"pass,fail,n/a"`
}

type TrainingReport struct {
	TrainingSessionID    string `json:"trainingSessionId,omitempty"`
	ParticipantsAssessed int    `json:"participantsAssessed"`
	Summary              string `json:"summary,omitempty"`
}

// ReportData is a tagged union: Kind names the single populated variant.
type ReportData struct {
	Kind        ReportKind         `json:"kind" enum:"inspection,calibration,load_test,training"`
	Inspection  *InspectionReport  `json:"inspection,omitempty"`
	Calibration *CalibrationReport `json:"calibration,omitempty"`
	LoadTest    *LoadTestReport    `json:"loadTest,omitempty"`
	Training    *TrainingReport    `json:"training,omitempty"`
	Remarks     string             `json:"remarks,omitempty"`
}

func (r ReportData) variants() int {
	n := 0
	if r.Inspection != nil {
		n++
	}
	if r.Calibration != nil {
		n++
	}
	if r.LoadTest != nil {
		n++
	}
	if r.Training != nil {
		n++
	}
	return n
}

// Validate checks that exactly one variant is set and that it matches Kind.
func (r ReportData) Validate() error {
	if _, err := ParseReportKind(string(r.Kind)); err != nil {
		return err
	}
	if r.variants() != 1 {
		return errors.New("report data must carry exactly one variant")
	}
	switch r.Kind {
	case ReportInspection:
		if r.Inspection == nil {
			return errors.New("inspection report missing")
		}
		if len(r.Inspection.Checklist) == 0 {
			return errors.New("inspection checklist required")
		}
	case ReportCalibration:
		if r.Calibration == nil {
			return errors.New("calibration report missing")
		}
		if len(r.Calibration.Readings) == 0 {
			return errors.New("calibration readings required")
		}
	case ReportLoadTest:
		if r.LoadTest == nil {
			return errors.New("load test report missing")
		}
		if r.LoadTest.TestLoad <= 0 {
			return errors.New("load test requires a positive test load")
		}
	case ReportTraining:
		if r.Training == nil {
			return errors.New("training report missing")
		}
	}
	return nil
}
