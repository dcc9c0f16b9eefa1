package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/noah-isme/sma-results-api/internal/models"
	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/export"
)

// ExportedDocument is a rendered download.
type ExportedDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportBroadsheet renders the class broadsheet as csv or pdf.
func (s *ResultQueryService) ExportBroadsheet(ctx context.Context, scope models.ResultScope, format string) (*ExportedDocument, error) {
	renderer, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	sheet, err := s.Broadsheet(ctx, scope)
	if err != nil {
		return nil, err
	}
	body, err := renderer.Render(BroadsheetTable(sheet))
	if err != nil {
		return nil, internalError(err, "failed to render broadsheet")
	}
	return &ExportedDocument{
		Filename:    fmt.Sprintf("broadsheet-%s-%s.%s", scope.ClassID, scope.TermID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

// BroadsheetTable flattens a broadsheet into one row per student with a total column per
// subject. Subjects a student has no result for are left blank.
func BroadsheetTable(sheet *models.Broadsheet) export.Table {
	headers := append([]string{"Student"}, sheet.Subjects...)
	headers = append(headers, "Average", "Grade", "Position", "Status")

	rows := make([][]string, 0, len(sheet.Students))
	for _, student := range sheet.Students {
		row := make([]string, 0, len(headers))
		row = append(row, student.StudentID)
		for _, subjectID := range sheet.Subjects {
			snap, ok := student.Subjects[subjectID]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(snap.TotalScore, 'f', -1, 64)+" "+snap.Grade)
		}
		row = append(row,
			strconv.FormatFloat(student.Average, 'f', 2, 64),
			student.Grade,
			strconv.Itoa(student.Position),
			string(student.Status),
		)
		rows = append(rows, row)
	}
	return export.Table{
		Title:   fmt.Sprintf("Broadsheet %s / %s", sheet.ClassID, sheet.TermID),
		Headers: headers,
		Rows:    rows,
	}
}
