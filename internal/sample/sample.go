// Package sample holds the fixed payloads served to anonymous callers when
// demo sample data is enabled. None of it comes from a store.
package sample

import "github.com/jwalitptl/livsafe-api/internal/model"

func distribution(counts [5]int) []model.GradeCount {
	out := make([]model.GradeCount, 0, len(model.Grades))
	for i, g := range model.Grades {
		out = append(out, model.GradeCount{Name: g, Value: counts[i], Color: model.GradeColors[g]})
	}
	return out
}

func DoctorDashboard() *model.DoctorDashboard {
	return &model.DoctorDashboard{
		Stats: model.DoctorStatsSummary{
			TotalRecords:   147,
			TotalChange:    "+15 from last month",
			MonthlyRecords: 23,
			MonthlyChange:  "+5 from previous month",
			Accuracy:       94.2,
			AccuracyChange: "+1.3% from last month",
		},
		RecentRecords: []model.RecordSummary{
			{ID: "LIV-2023051", PatientName: "Sarah Johnson", Date: "May 12, 2023", Grade: model.GradeF1},
			{ID: "LIV-2023047", PatientName: "Michael Chen", Date: "May 10, 2023", Grade: model.GradeF2},
			{ID: "LIV-2023042", PatientName: "Robert Williams", Date: "May 8, 2023", Grade: model.GradeF3},
		},
		GradeDistribution: distribution([5]int{15, 42, 58, 27, 5}),
	}
}

func OrganizationDashboard() *model.OrganizationDashboard {
	return &model.OrganizationDashboard{
		Stats: model.OrganizationStatsSummary{
			TotalDoctors:       15,
			DoctorsChange:      "+2 from last month",
			TotalRecordsToday:  42,
			RecordsTodayChange: "+8 from yesterday",
			TotalRecordsMonth:  1247,
			RecordsMonthChange: "+125 from last month",
		},
		Doctors: []model.DoctorSummary{
			{ID: "DOC-001", Name: "Dr. John Smith", Email: "john.smith@hospital.com", Specialization: "Radiology", RecordCount: 245},
			{ID: "DOC-002", Name: "Dr. Emily Wong", Email: "emily.wong@hospital.com", Specialization: "Hepatology", RecordCount: 189},
			{ID: "DOC-003", Name: "Dr. Michael Johnson", Email: "michael.johnson@hospital.com", Specialization: "Gastroenterology", RecordCount: 312},
			{ID: "DOC-004", Name: "Dr. Sarah Palmer", Email: "sarah.palmer@hospital.com", Specialization: "Internal Medicine", RecordCount: 178},
		},
		GradeDistribution: distribution([5]int{221, 389, 427, 189, 21}),
	}
}

// Records is the demo records table, in the order the client expects.
func Records() []model.RecordSummary {
	return []model.RecordSummary{
		{ID: "LIV-2023042", PatientName: "Robert Williams", Date: "May 8, 2023", Grade: model.GradeF3, Confidence: 89},
		{ID: "LIV-2023035", PatientName: "Emily Parker", Date: "May 3, 2023", Grade: model.GradeF0, Confidence: 95},
		{ID: "LIV-2023051", PatientName: "Sarah Johnson", Date: "May 12, 2023", Grade: model.GradeF1, Confidence: 92},
		{ID: "LIV-2023047", PatientName: "Michael Chen", Date: "May 10, 2023", Grade: model.GradeF2, Confidence: 87},
		{ID: "LIV-2023060", PatientName: "David Thompson", Date: "May 15, 2023", Grade: model.GradeF4, Confidence: 91},
	}
}
