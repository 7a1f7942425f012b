package grading

import (
	"fmt"
	"strings"

	"github.com/jwalitptl/livsafe-api/internal/model"
)

// Phrase tables, indexed by grade.
var (
	severity    = [5]string{"no significant", "mild", "moderate", "advanced", "severe"}
	parenchyma  = [5]string{"Normal", "Mild", "Moderate", "Significant", "Severe"}
	nodularity  = [5]string{"No", "Minimal", "Mild", "Moderate", "Significant"}
	periportal  = [5]string{"No", "Mild", "Moderate", "Advanced", "Severe"}
	followUpMon = [5]int{12, 6, 4, 3, 2}
)

// Narrative renders the templated report for g: an intro, five findings and
// a follow-up recommendation. It returns nil for an unknown grade.
func Narrative(g model.Grade) []string {
	n := g.Index()
	if n < 0 {
		return nil
	}

	portal := "within normal range"
	spleen := "normal"
	if g == model.GradeF4 {
		portal = "enlarged"
		spleen = "enlarged"
	}

	return []string{
		fmt.Sprintf("The ultrasound shows %s hepatic fibrosis consistent with %s grade (Metavir scale). Key findings include:", severity[n], g),
		fmt.Sprintf("%s heterogeneity of liver parenchyma", parenchyma[n]),
		fmt.Sprintf("Portal vein diameter %s (%.1fmm)", portal, 10+float64(n)*0.5),
		fmt.Sprintf("%s nodularity of liver surface", nodularity[n]),
		fmt.Sprintf("%s periportal fibrosis visible", periportal[n]),
		fmt.Sprintf("Spleen size %s (%.1fcm)", spleen, 11+float64(n)*0.8),
		fmt.Sprintf("Recommended follow-up: Repeat ultrasound in %d months to monitor progression.", followUpMon[n]),
	}
}

// JoinAnalysis and SplitAnalysis convert the narrative to and from the
// stored analysis text.
func JoinAnalysis(lines []string) string {
	return strings.Join(lines, "\n")
}

func SplitAnalysis(text string) []string {
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}
