// Package report prints exam results as a terminal table.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	appI18n "github.com/pavelanni/answergrader/internal/i18n"
	"github.com/pavelanni/answergrader/internal/model"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed)
)

// Results writes one row per student followed by a pass count.
func Results(ctx context.Context, w io.Writer, results []model.ExamResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Student", "Submitted", "Graded", "Average", "Verdict"})

	passed := 0
	for _, r := range results {
		verdict := appI18n.Verdict(ctx, r.Verdict)
		if r.Verdict == model.VerdictPass {
			passed++
			verdict = passColor.Sprint(verdict)
		} else {
			verdict = failColor.Sprint(verdict)
		}
		table.Append([]string{
			r.StudentID,
			r.SubmittedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", r.Graded),
			fmt.Sprintf("%.1f", r.AverageScore),
			verdict,
		})
	}
	table.Render()

	fmt.Fprintf(w, "%d of %d students passed\n", passed, len(results))
}

// Score writes the breakdown of a single scored answer.
func Score(ctx context.Context, w io.Writer, sc model.QuestionScore) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Syntactic", "Semantic", "Final", "Verdict"})
	semantic := fmt.Sprintf("%.1f", sc.SemanticScore)
	if sc.SemanticFallback {
		semantic = "n/a"
	}
	verdict := appI18n.Verdict(ctx, sc.Verdict)
	if sc.Verdict == model.VerdictPass {
		verdict = passColor.Sprint(verdict)
	} else {
		verdict = failColor.Sprint(verdict)
	}
	table.Append([]string{
		fmt.Sprintf("%.1f", sc.SyntacticScore),
		semantic,
		fmt.Sprintf("%.1f", sc.FinalScore),
		verdict,
	})
	table.Render()
}
