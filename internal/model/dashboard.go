package model

type GradeCount struct {
	Name  Grade  `json:"name"`
	Value int    `json:"value"`
	Color string `json:"color"`
}

type DoctorStatsSummary struct {
	TotalRecords   int     `json:"totalRecords"`
	TotalChange    string  `json:"totalChange"`
	MonthlyRecords int     `json:"monthlyRecords"`
	MonthlyChange  string  `json:"monthlyChange"`
	Accuracy       float64 `json:"accuracy"`
	AccuracyChange string  `json:"accuracyChange"`
}

type DoctorDashboard struct {
	Stats             DoctorStatsSummary `json:"stats"`
	RecentRecords     []RecordSummary    `json:"recentRecords"`
	GradeDistribution []GradeCount       `json:"gradeDistribution"`
}

type OrganizationStatsSummary struct {
	TotalDoctors       int    `json:"totalDoctors"`
	DoctorsChange      string `json:"doctorsChange"`
	TotalRecordsToday  int    `json:"totalRecordsToday"`
	RecordsTodayChange string `json:"recordsTodayChange"`
	TotalRecordsMonth  int    `json:"totalRecordsMonth"`
	RecordsMonthChange string `json:"recordsMonthChange"`
}

type DoctorSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Specialization string `json:"specialization"`
	RecordCount    int    `json:"recordCount"`
}

type OrganizationDashboard struct {
	Stats             OrganizationStatsSummary `json:"stats"`
	Doctors           []DoctorSummary          `json:"doctors"`
	GradeDistribution []GradeCount             `json:"gradeDistribution"`
}
